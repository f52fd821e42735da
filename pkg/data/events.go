package data

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies an outbound consensus event variant
type EventType string

const (
	EventValidatorRegistered  EventType = "validator_registered"
	EventValidatorDeactivated EventType = "validator_deactivated"
	EventStakeIncreased       EventType = "stake_increased"
	EventStakeDecreased       EventType = "stake_decreased"
	EventValidatorSlashed     EventType = "validator_slashed"
	EventValidatorRewarded    EventType = "validator_rewarded"
	EventWorkVerified         EventType = "work_verified"
	EventChallengeIssued      EventType = "challenge_issued"
	EventChallengeResolved    EventType = "challenge_resolved"
	EventBlockProposed        EventType = "block_proposed"
	EventBlockFinalized       EventType = "block_finalized"
	EventBlockAbandoned       EventType = "block_abandoned"
	EventEpochAdvanced        EventType = "epoch_advanced"
)

// Event is an outbound message describing a consensus state change. The core
// performs no I/O itself; external collaborators (ledger, persistence,
// dashboards) consume these. The unique ID makes downstream application
// idempotent under replay.
type Event struct {
	ID           string            `json:"id"`
	Type         EventType         `json:"type"`
	Time         time.Time         `json:"time"`
	ValidatorID  string            `json:"validator_id,omitempty"`
	SubmissionID string            `json:"submission_id,omitempty"`
	ChallengeID  string            `json:"challenge_id,omitempty"`
	BlockHash    string            `json:"block_hash,omitempty"`
	Height       uint64            `json:"height,omitempty"`
	Epoch        uint64            `json:"epoch,omitempty"`
	Amount       uint64            `json:"amount,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// NewEvent creates an event of the given type with a fresh id and timestamp
func NewEvent(t EventType) Event {
	return Event{
		ID:   uuid.New().String(),
		Type: t,
		Time: time.Now().UTC(),
	}
}
