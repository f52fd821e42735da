package consensus

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// recentOutcomeCap bounds the ring of recent outcomes kept for reporting
const recentOutcomeCap = 32

// ChallengeManager issues probabilistic challenges against work submissions
// and resolves them by plurality among the challenger responses. A resolution
// is authoritative only when the plurality clears the byzantine margin;
// otherwise the challenge is inconclusive and the original submission stands.
type ChallengeManager struct {
	registry *Registry
	slashing *SlashingEngine

	challenges  map[string]*data.Challenge
	submissions map[string]*data.WorkSubmission // challenge id -> challenged submission
	recent      []data.ChallengeOutcome

	challengerCount int
	responseWindow  time.Duration
	byzantine       float64
	rewardAmount    uint64
	penaltyFraction float64

	issued       uint64
	successful   uint64
	inconclusive uint64

	rng    *rand.Rand
	events *eventBus
	logger *zap.Logger
	mu     sync.Mutex
}

// ChallengeStats summarizes challenge activity
type ChallengeStats struct {
	Issued       uint64 `json:"issued"`
	Pending      int    `json:"pending"`
	Successful   uint64 `json:"successful"`
	Inconclusive uint64 `json:"inconclusive"`
}

// NewChallengeManager creates a challenge manager
func NewChallengeManager(registry *Registry, slashing *SlashingEngine, cfg *config.ChallengeConfig, events *eventBus, logger *zap.Logger) *ChallengeManager {
	return &ChallengeManager{
		registry:        registry,
		slashing:        slashing,
		challenges:      make(map[string]*data.Challenge),
		submissions:     make(map[string]*data.WorkSubmission),
		challengerCount: cfg.ChallengerCount,
		responseWindow:  cfg.ResponseWindow,
		byzantine:       cfg.ByzantineThreshold,
		rewardAmount:    cfg.RewardAmount,
		penaltyFraction: cfg.PenaltyFraction,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		events:          events,
		logger:          logger,
	}
}

// Issue opens a challenge against a submission, assigning up to
// challengerCount active validators other than the submitter.
func (cm *ChallengeManager) Issue(sub *data.WorkSubmission) (*data.Challenge, error) {
	candidates := make([]string, 0)
	for _, id := range cm.registry.ActiveIDs() {
		if id != sub.ValidatorID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no eligible challengers for submission %s", sub.ID)
	}

	cm.mu.Lock()
	cm.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	n := cm.challengerCount
	if n > len(candidates) {
		n = len(candidates)
	}
	challengers := append([]string(nil), candidates[:n]...)

	ch := data.NewChallenge(sub, challengers, time.Now().UTC().Add(cm.responseWindow))
	cm.challenges[ch.ID] = ch
	cm.submissions[ch.ID] = sub
	cm.issued++
	cm.mu.Unlock()

	cm.logger.Info("Challenge issued",
		zap.String("challenge", ch.ID),
		zap.String("submission", sub.ID),
		zap.String("challenged", sub.ValidatorID),
		zap.Strings("challengers", challengers))

	for _, id := range challengers {
		evt := data.NewEvent(data.EventChallengeIssued)
		evt.ChallengeID = ch.ID
		evt.SubmissionID = sub.ID
		evt.ValidatorID = id
		evt.Attributes = map[string]string{"challenged": sub.ValidatorID}
		cm.events.Publish(evt)
	}

	return ch, nil
}

// Respond records a challenger's independently computed result. The challenge
// resolves as soon as every assigned challenger has responded.
func (cm *ChallengeManager) Respond(challengeID, validatorID, outputHash, proof string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.challenges[challengeID]
	if !ok {
		return ErrChallengeNotFound
	}
	if ch.Status != data.ChallengeStatusPending {
		return ErrChallengeNotPending
	}
	if !ch.HasChallenger(validatorID) {
		return ErrUnauthorizedChallenger
	}
	if time.Now().UTC().After(ch.Deadline) {
		cm.resolveLocked(ch)
		return ErrDeadlinePassed
	}
	if _, dup := ch.Responses[validatorID]; dup {
		return ErrDuplicateResponse
	}

	ch.Responses[validatorID] = &data.ChallengeResponse{
		ValidatorID: validatorID,
		OutputHash:  outputHash,
		Proof:       proof,
		ReceivedAt:  time.Now().UTC(),
	}

	if ch.AllResponded() {
		cm.resolveLocked(ch)
	}
	return nil
}

// Get returns a challenge by id
func (cm *ChallengeManager) Get(challengeID string) (*data.Challenge, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.challenges[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return ch, nil
}

// Snapshot returns a deep copy of a challenge, decoupled from responses
// arriving after the copy
func (cm *ChallengeManager) Snapshot(challengeID string) (*data.Challenge, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.challenges[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return ch.Clone(), nil
}

// ExpireDue resolves every pending challenge whose deadline has passed,
// tallying whatever responses arrived. Returns the number resolved.
func (cm *ChallengeManager) ExpireDue(now time.Time) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	resolved := 0
	for _, ch := range cm.challenges {
		if ch.Status == data.ChallengeStatusPending && now.After(ch.Deadline) {
			cm.resolveLocked(ch)
			resolved++
		}
	}
	return resolved
}

// RecentOutcomes returns the most recent challenge outcomes, newest last
func (cm *ChallengeManager) RecentOutcomes() []data.ChallengeOutcome {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return append([]data.ChallengeOutcome(nil), cm.recent...)
}

// Stats summarizes challenge activity
func (cm *ChallengeManager) Stats() ChallengeStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	stats := ChallengeStats{
		Issued:       cm.issued,
		Successful:   cm.successful,
		Inconclusive: cm.inconclusive,
	}
	for _, ch := range cm.challenges {
		if ch.Status == data.ChallengeStatusPending {
			stats.Pending++
		}
	}
	return stats
}

// resolveLocked tallies responses by output hash and resolves the challenge.
// The plurality output is authoritative only when its count reaches
// ceil(responses * (1 - byzantineThreshold)). An inconclusive resolution
// leaves the original submission standing.
func (cm *ChallengeManager) resolveLocked(ch *data.Challenge) {
	if ch.Status != data.ChallengeStatusPending {
		return
	}

	sub := cm.submissions[ch.ID]

	tally := make(map[string]int, len(ch.Responses))
	for _, resp := range ch.Responses {
		tally[resp.OutputHash]++
	}

	// Plurality output, ties broken by lexicographic order for determinism
	outputs := make([]string, 0, len(tally))
	for out := range tally {
		outputs = append(outputs, out)
	}
	sort.Strings(outputs)

	consensus := ""
	best := 0
	for _, out := range outputs {
		if tally[out] > best {
			consensus = out
			best = tally[out]
		}
	}

	n := len(ch.Responses)
	need := int(math.Ceil(float64(n) * (1 - cm.byzantine)))

	outcome := &data.ChallengeOutcome{
		ConsensusOutput: consensus,
		AgreeCount:      best,
		ResponseCount:   n,
		Tally:           tally,
		ResolvedAt:      time.Now().UTC(),
	}
	outcome.Successful = n > 0 && best >= need

	if outcome.Successful {
		for _, resp := range ch.Responses {
			if resp.OutputHash == consensus {
				outcome.Agreeing = append(outcome.Agreeing, resp.ValidatorID)
			}
		}
		sort.Strings(outcome.Agreeing)

		if consensus != sub.OutputHash {
			if _, err := cm.slashing.Slash(ch.ChallengedID, "incorrect_computation", ch.ID, cm.penaltyFraction); err != nil {
				cm.logger.Error("Failed to slash challenged validator",
					zap.String("challenge", ch.ID),
					zap.String("validator", ch.ChallengedID),
					zap.Error(err))
			}
		}
		for _, id := range outcome.Agreeing {
			if err := cm.slashing.Reward(id, "challenge_response", cm.rewardAmount); err != nil {
				cm.logger.Error("Failed to reward challenger",
					zap.String("challenge", ch.ID),
					zap.String("validator", id),
					zap.Error(err))
			}
		}
		cm.successful++
	} else {
		cm.inconclusive++
	}

	ch.Status = data.ChallengeStatusResolved
	ch.Outcome = outcome

	cm.recent = append(cm.recent, *outcome)
	if len(cm.recent) > recentOutcomeCap {
		cm.recent = cm.recent[len(cm.recent)-recentOutcomeCap:]
	}

	reason := "inconclusive"
	if outcome.Successful {
		reason = "successful"
	}
	cm.logger.Info("Challenge resolved",
		zap.String("challenge", ch.ID),
		zap.String("resolution", reason),
		zap.Int("responses", n),
		zap.Int("agreeing", best))

	evt := data.NewEvent(data.EventChallengeResolved)
	evt.ChallengeID = ch.ID
	evt.SubmissionID = ch.SubmissionID
	evt.ValidatorID = ch.ChallengedID
	evt.Reason = reason
	evt.Attributes = map[string]string{"consensus_output": consensus}
	cm.events.Publish(evt)
}
