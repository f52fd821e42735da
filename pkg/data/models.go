package data

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error variables for consistent error handling
var (
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrMissingPublicKey = errors.New("missing public key")
)

// Reputation bounds. A validator starts at ReputationInitial and is
// deactivated once it falls under ReputationFloor.
const (
	ReputationMin     = 0.1
	ReputationMax     = 2.0
	ReputationInitial = 1.0
	ReputationFloor   = 0.5
)

// ZeroHash is the previous-block hash of the genesis block.
var ZeroHash = hex.EncodeToString(make([]byte, 32))

// Validator represents a staked participant in the consensus network.
// Records are never deleted; a deactivated validator is retained for audit.
type Validator struct {
	ID               string            `json:"id"`
	PublicKey        []byte            `json:"public_key"`
	Stake            uint64            `json:"stake"`
	Reputation       float64           `json:"reputation"`
	Active           bool              `json:"active"`
	PerformanceScore float64           `json:"performance_score"`
	RecentScores     []float64         `json:"recent_scores,omitempty"`
	JoinEpoch        uint64            `json:"join_epoch"`
	ComputeCapacity  int64             `json:"compute_capacity"`
	Endpoint         string            `json:"endpoint"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	SlashingHistory  []SlashingRecord  `json:"slashing_history,omitempty"`
	DeactivatedAt    *time.Time        `json:"deactivated_at,omitempty"`
	DeactivationNote string            `json:"deactivation_note,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// SlashingRecord is an append-only entry in a validator's penalty history
type SlashingRecord struct {
	ID          string    `json:"id"`
	Reason      string    `json:"reason"`
	Evidence    string    `json:"evidence"`
	SlashAmount uint64    `json:"slash_amount"`
	Fraction    float64   `json:"fraction"`
	Time        time.Time `json:"time"`
}

// NewValidator creates a new active Validator with initial reputation
func NewValidator(id string, publicKey []byte, stake uint64, computeCapacity int64, endpoint string, metadata map[string]string) (*Validator, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if len(publicKey) == 0 {
		return nil, ErrMissingPublicKey
	}
	if stake == 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now().UTC()
	return &Validator{
		ID:              id,
		PublicKey:       publicKey,
		Stake:           stake,
		Reputation:      ReputationInitial,
		Active:          true,
		ComputeCapacity: computeCapacity,
		Endpoint:        endpoint,
		Metadata:        metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// RecordScore appends a verification score to the rolling window and
// recomputes the performance score as the window mean.
func (v *Validator) RecordScore(score float64, window int) {
	v.RecentScores = append(v.RecentScores, score)
	if window > 0 && len(v.RecentScores) > window {
		v.RecentScores = v.RecentScores[len(v.RecentScores)-window:]
	}

	var sum float64
	for _, s := range v.RecentScores {
		sum += s
	}
	v.PerformanceScore = sum / float64(len(v.RecentScores))
	v.UpdatedAt = time.Now().UTC()
}

// ScaleReputation multiplies reputation by factor, clamped to the valid range
func (v *Validator) ScaleReputation(factor float64) {
	v.Reputation = clampReputation(v.Reputation * factor)
	v.UpdatedAt = time.Now().UTC()
}

// NudgeReputation adds delta to reputation, clamped to the valid range
func (v *Validator) NudgeReputation(delta float64) {
	v.Reputation = clampReputation(v.Reputation + delta)
	v.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy safe to read without holding the owner's lock
func (v *Validator) Clone() *Validator {
	cp := *v
	cp.PublicKey = append([]byte(nil), v.PublicKey...)
	cp.RecentScores = append([]float64(nil), v.RecentScores...)
	cp.SlashingHistory = append([]SlashingRecord(nil), v.SlashingHistory...)
	if v.Metadata != nil {
		cp.Metadata = make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			cp.Metadata[k] = val
		}
	}
	if v.DeactivatedAt != nil {
		t := *v.DeactivatedAt
		cp.DeactivatedAt = &t
	}
	return &cp
}

func clampReputation(r float64) float64 {
	if r < ReputationMin {
		return ReputationMin
	}
	if r > ReputationMax {
		return ReputationMax
	}
	return r
}

// WorkSubmission represents a claimed unit of off-chain compute work.
// Immutable once verified, except for the challenge-issued flag.
type WorkSubmission struct {
	ID                string    `json:"id"`
	ValidatorID       string    `json:"validator_id"`
	TaskID            string    `json:"task_id"`
	InputHash         string    `json:"input_hash"`
	OutputHash        string    `json:"output_hash"`
	Proof             string    `json:"proof"`
	ExecutionTimeMs   int64     `json:"execution_time_ms"`
	Verified          bool      `json:"verified"`
	VerificationScore float64   `json:"verification_score"`
	ChallengeIssued   bool      `json:"challenge_issued"`
	SubmittedAt       time.Time `json:"submitted_at"`
}

// NewWorkSubmission creates a new unverified WorkSubmission
func NewWorkSubmission(validatorID, taskID, inputHash, outputHash, proof string, executionTimeMs int64) *WorkSubmission {
	return &WorkSubmission{
		ID:              uuid.New().String(),
		ValidatorID:     validatorID,
		TaskID:          taskID,
		InputHash:       inputHash,
		OutputHash:      outputHash,
		Proof:           proof,
		ExecutionTimeMs: executionTimeMs,
		SubmittedAt:     time.Now().UTC(),
	}
}

// ProofDigest recomputes the expected proof for a submission deterministically
// from its input hash, output hash, and declared execution time.
func ProofDigest(inputHash, outputHash string, executionTimeMs int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", inputHash, outputHash, executionTimeMs)))
	return hex.EncodeToString(sum[:])
}

// ChallengeStatus represents the lifecycle state of a challenge
type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusResolved ChallengeStatus = "resolved"
)

// Challenge represents a dispute over a work submission, re-verified by a set
// of independently assigned validators.
type Challenge struct {
	ID           string                        `json:"id"`
	SubmissionID string                        `json:"submission_id"`
	ChallengedID string                        `json:"challenged_id"`
	Challengers  []string                      `json:"challengers"`
	Deadline     time.Time                     `json:"deadline"`
	Responses    map[string]*ChallengeResponse `json:"responses"`
	Status       ChallengeStatus               `json:"status"`
	Outcome      *ChallengeOutcome             `json:"outcome,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
}

// ChallengeResponse is a single challenger's independently computed result
type ChallengeResponse struct {
	ValidatorID string    `json:"validator_id"`
	OutputHash  string    `json:"output_hash"`
	Proof       string    `json:"proof"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ChallengeOutcome records how a challenge was resolved
type ChallengeOutcome struct {
	Successful      bool           `json:"successful"`
	ConsensusOutput string         `json:"consensus_output"`
	AgreeCount      int            `json:"agree_count"`
	ResponseCount   int            `json:"response_count"`
	Tally           map[string]int `json:"tally"`
	Agreeing        []string       `json:"agreeing,omitempty"`
	ResolvedAt      time.Time      `json:"resolved_at"`
}

// NewChallenge creates a pending challenge against a submission
func NewChallenge(submission *WorkSubmission, challengers []string, deadline time.Time) *Challenge {
	return &Challenge{
		ID:           uuid.New().String(),
		SubmissionID: submission.ID,
		ChallengedID: submission.ValidatorID,
		Challengers:  challengers,
		Deadline:     deadline,
		Responses:    make(map[string]*ChallengeResponse),
		Status:       ChallengeStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

// Clone returns a deep copy safe to read without holding the owner's lock
func (c *Challenge) Clone() *Challenge {
	cp := *c
	cp.Challengers = append([]string(nil), c.Challengers...)
	cp.Responses = make(map[string]*ChallengeResponse, len(c.Responses))
	for id, resp := range c.Responses {
		r := *resp
		cp.Responses[id] = &r
	}
	if c.Outcome != nil {
		o := *c.Outcome
		o.Agreeing = append([]string(nil), c.Outcome.Agreeing...)
		o.Tally = make(map[string]int, len(c.Outcome.Tally))
		for out, n := range c.Outcome.Tally {
			o.Tally[out] = n
		}
		cp.Outcome = &o
	}
	return &cp
}

// HasChallenger reports whether the validator is in the assigned set
func (c *Challenge) HasChallenger(validatorID string) bool {
	for _, id := range c.Challengers {
		if id == validatorID {
			return true
		}
	}
	return false
}

// AllResponded reports whether every assigned challenger has responded
func (c *Challenge) AllResponded() bool {
	return len(c.Responses) == len(c.Challengers)
}

// Block is an ordered batch of verified work submissions, chained by hash
type Block struct {
	Height      uint64            `json:"height"`
	ProducerID  string            `json:"producer_id"`
	PrevHash    string            `json:"prev_hash"`
	MerkleRoot  string            `json:"merkle_root"`
	Hash        string            `json:"hash"`
	Submissions []*WorkSubmission `json:"submissions"`
	Timestamp   time.Time         `json:"timestamp"`
	Signature   []byte            `json:"signature,omitempty"`
}

// NewBlock assembles a block and seals its merkle root and hash
func NewBlock(height uint64, producerID, prevHash string, submissions []*WorkSubmission, timestamp time.Time) *Block {
	b := &Block{
		Height:      height,
		ProducerID:  producerID,
		PrevHash:    prevHash,
		Submissions: submissions,
		Timestamp:   timestamp,
	}
	b.MerkleRoot = MerkleRoot(submissions)
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash derives the block hash from height, timestamp, producer,
// previous hash, and merkle root. Pure function of those inputs.
func (b *Block) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%s|%s|%s",
		b.Height, b.Timestamp.UnixNano(), b.ProducerID, b.PrevHash, b.MerkleRoot)))
	return hex.EncodeToString(sum[:])
}

// MerkleRoot computes a binary sha256 merkle root over the ordered submission
// sequence. An odd leaf is paired with itself; an empty sequence yields the
// zero hash.
func MerkleRoot(submissions []*WorkSubmission) string {
	if len(submissions) == 0 {
		return ZeroHash
	}

	level := make([][32]byte, len(submissions))
	for i, s := range submissions {
		level[i] = sha256.Sum256([]byte(s.ID + "|" + s.OutputHash))
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, sha256.Sum256(append(left[:], right[:]...)))
		}
		level = next
	}

	return hex.EncodeToString(level[0][:])
}

// RoundOutcome represents the terminal state of a voting round
type RoundOutcome string

const (
	RoundOutcomePending   RoundOutcome = "pending"
	RoundOutcomeFinalized RoundOutcome = "finalized"
	RoundOutcomeAbandoned RoundOutcome = "abandoned"
)

// Vote is a single validator's stake-weighted vote on a candidate block
type Vote struct {
	ValidatorID string    `json:"validator_id"`
	BlockHash   string    `json:"block_hash"`
	Accept      bool      `json:"accept"`
	Stake       uint64    `json:"stake"`
	CastAt      time.Time `json:"cast_at"`
}

// VotingRound tallies stake-weighted votes for one candidate block
type VotingRound struct {
	BlockHash   string           `json:"block_hash"`
	Height      uint64           `json:"height"`
	TotalStake  uint64           `json:"total_stake"`
	Threshold   uint64           `json:"threshold"`
	AcceptStake uint64           `json:"accept_stake"`
	RejectStake uint64           `json:"reject_stake"`
	Votes       map[string]*Vote `json:"votes"`
	OpenedAt    time.Time        `json:"opened_at"`
	Deadline    time.Time        `json:"deadline"`
	Completed   bool             `json:"completed"`
	Outcome     RoundOutcome     `json:"outcome"`
}

// NewVotingRound opens a round for a candidate block against the active stake
// snapshot taken at proposal time.
func NewVotingRound(block *Block, totalStake uint64, timeout time.Duration) *VotingRound {
	now := time.Now().UTC()
	return &VotingRound{
		BlockHash:  block.Hash,
		Height:     block.Height,
		TotalStake: totalStake,
		Threshold:  QuorumThreshold(totalStake),
		Votes:      make(map[string]*Vote),
		OpenedAt:   now,
		Deadline:   now.Add(timeout),
		Outcome:    RoundOutcomePending,
	}
}

// QuorumThreshold returns ceil(total * 2/3) in integer arithmetic
func QuorumThreshold(total uint64) uint64 {
	return (2*total + 2) / 3
}
