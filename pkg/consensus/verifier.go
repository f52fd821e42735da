package consensus

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// Verification scoring: a correct proof earns the base score plus a speed
// bonus that decays linearly over the reference execution window.
const (
	baseVerificationScore = 100.0
	maxSpeedBonus         = 50.0
	referenceExecutionMs  = 10000.0
)

// WorkVerifier checks work submissions against their deterministic proof
// digest, scores them, and probabilistically hands them to the challenge
// manager for re-verification.
type WorkVerifier struct {
	registry   *Registry
	challenges *ChallengeManager
	producer   *BlockProducer

	challengeProbability float64
	submissions          map[string]*data.WorkSubmission

	verified uint64
	rejected uint64

	rng    *rand.Rand
	events *eventBus
	logger *zap.Logger
	mu     sync.Mutex
}

// SubmitResult reports the outcome of a successful submission
type SubmitResult struct {
	SubmissionID string  `json:"submission_id"`
	Score        float64 `json:"score"`
	Challenged   bool    `json:"challenged"`
	ChallengeID  string  `json:"challenge_id,omitempty"`
}

// VerifierStats summarizes verification activity
type VerifierStats struct {
	Verified uint64 `json:"verified"`
	Rejected uint64 `json:"rejected"`
}

// NewWorkVerifier creates a work verifier
func NewWorkVerifier(registry *Registry, challenges *ChallengeManager, producer *BlockProducer, cfg *config.ConsensusConfig, events *eventBus, logger *zap.Logger) *WorkVerifier {
	return &WorkVerifier{
		registry:             registry,
		challenges:           challenges,
		producer:             producer,
		challengeProbability: cfg.ChallengeProbability,
		submissions:          make(map[string]*data.WorkSubmission),
		rng:                  rand.New(rand.NewSource(time.Now().UnixNano())),
		events:               events,
		logger:               logger,
	}
}

// SubmitWork verifies a claimed unit of work. The proof must equal the digest
// recomputed from the submission fields; a mismatch rejects the submission
// without side effects.
func (w *WorkVerifier) SubmitWork(validatorID, taskID, inputHash, outputHash, proof string, executionTimeMs int64) (*SubmitResult, error) {
	_, active, err := w.registry.StakeOf(validatorID)
	if err != nil {
		return nil, ErrUnknownValidator
	}
	if !active {
		return nil, ErrInactiveValidator
	}

	if proof != data.ProofDigest(inputHash, outputHash, executionTimeMs) {
		w.mu.Lock()
		w.rejected++
		w.mu.Unlock()
		w.logger.Warn("Rejected work submission with invalid proof",
			zap.String("validator", validatorID),
			zap.String("task", taskID))
		return nil, ErrInvalidProof
	}

	sub := data.NewWorkSubmission(validatorID, taskID, inputHash, outputHash, proof, executionTimeMs)
	sub.Verified = true
	sub.VerificationScore = verificationScore(executionTimeMs)

	w.mu.Lock()
	challenged := w.rng.Float64() < w.challengeProbability
	w.submissions[sub.ID] = sub
	w.verified++
	w.mu.Unlock()

	result := &SubmitResult{
		SubmissionID: sub.ID,
		Score:        sub.VerificationScore,
		Challenged:   challenged,
	}

	if challenged {
		ch, err := w.challenges.Issue(sub)
		if err != nil {
			// Not enough eligible challengers; the submission stands unchallenged
			w.logger.Debug("Skipping challenge", zap.String("submission", sub.ID), zap.Error(err))
			result.Challenged = false
		} else {
			sub.ChallengeIssued = true
			result.ChallengeID = ch.ID
		}
	}

	if err := w.registry.RecordScore(validatorID, sub.VerificationScore); err != nil {
		w.logger.Error("Failed to record score", zap.String("validator", validatorID), zap.Error(err))
	}
	w.producer.AddPending(sub)

	evt := data.NewEvent(data.EventWorkVerified)
	evt.ValidatorID = validatorID
	evt.SubmissionID = sub.ID
	evt.Attributes = map[string]string{"task": taskID}
	w.events.Publish(evt)

	return result, nil
}

// Submission returns a verified submission by id
func (w *WorkVerifier) Submission(id string) (*data.WorkSubmission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, ok := w.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

// Snapshot returns a copy of a submission, decoupled from later flag updates
func (w *WorkVerifier) Snapshot(id string) (*data.WorkSubmission, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, ok := w.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// Stats summarizes verification activity
func (w *WorkVerifier) Stats() VerifierStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return VerifierStats{Verified: w.verified, Rejected: w.rejected}
}

// verificationScore returns the base score plus a speed bonus. Faster claimed
// execution earns a larger bonus, clamped so a slow-but-correct submission
// still scores the base.
func verificationScore(executionTimeMs int64) float64 {
	bonus := maxSpeedBonus * (1 - float64(executionTimeMs)/referenceExecutionMs)
	if bonus < 0 {
		bonus = 0
	}
	if bonus > maxSpeedBonus {
		bonus = maxSpeedBonus
	}
	return baseVerificationScore + bonus
}
