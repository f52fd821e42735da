package data

import (
	"errors"
	"fmt"
)

// ErrMissingField indicates a required field is absent from an inbound message
var ErrMissingField = errors.New("missing required field")

// VoteChoice values accepted on the vote submission channel
const (
	VoteChoiceAccept = "accept"
	VoteChoiceReject = "reject"
)

// RegisterRequest is the inbound registration message
type RegisterRequest struct {
	ValidatorID     string            `json:"validator_id"`
	PublicKey       []byte            `json:"public_key"`
	Stake           uint64            `json:"stake"`
	ComputeCapacity int64             `json:"compute_capacity"`
	Endpoint        string            `json:"endpoint"`
	Metadata        map[string]string `json:"metadata"`
}

// Validate checks all required fields are present
func (r *RegisterRequest) Validate() error {
	if r.ValidatorID == "" {
		return fmt.Errorf("%w: validator_id", ErrMissingField)
	}
	if len(r.PublicKey) == 0 {
		return fmt.Errorf("%w: public_key", ErrMissingField)
	}
	if r.Stake == 0 {
		return fmt.Errorf("%w: stake", ErrMissingField)
	}
	if r.ComputeCapacity <= 0 {
		return fmt.Errorf("%w: compute_capacity", ErrMissingField)
	}
	if r.Metadata == nil {
		return fmt.Errorf("%w: metadata", ErrMissingField)
	}
	return nil
}

// WorkRequest is the inbound work submission message
type WorkRequest struct {
	ValidatorID     string `json:"validator_id"`
	TaskID          string `json:"task_id"`
	InputHash       string `json:"input_hash"`
	OutputHash      string `json:"output_hash"`
	Proof           string `json:"proof"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Signature       []byte `json:"signature,omitempty"`
}

// Validate checks all required fields are present
func (r *WorkRequest) Validate() error {
	if r.ValidatorID == "" {
		return fmt.Errorf("%w: validator_id", ErrMissingField)
	}
	if r.TaskID == "" {
		return fmt.Errorf("%w: task_id", ErrMissingField)
	}
	if r.InputHash == "" {
		return fmt.Errorf("%w: input_hash", ErrMissingField)
	}
	if r.OutputHash == "" {
		return fmt.Errorf("%w: output_hash", ErrMissingField)
	}
	if r.Proof == "" {
		return fmt.Errorf("%w: proof", ErrMissingField)
	}
	if r.ExecutionTimeMs <= 0 {
		return fmt.Errorf("%w: execution_time_ms", ErrMissingField)
	}
	return nil
}

// ChallengeResponseRequest is the inbound challenge response message
type ChallengeResponseRequest struct {
	ChallengeID string `json:"challenge_id"`
	ValidatorID string `json:"validator_id"`
	OutputHash  string `json:"output_hash"`
	Proof       string `json:"proof"`
}

// Validate checks all required fields are present
func (r *ChallengeResponseRequest) Validate() error {
	if r.ChallengeID == "" {
		return fmt.Errorf("%w: challenge_id", ErrMissingField)
	}
	if r.ValidatorID == "" {
		return fmt.Errorf("%w: validator_id", ErrMissingField)
	}
	if r.OutputHash == "" {
		return fmt.Errorf("%w: output_hash", ErrMissingField)
	}
	if r.Proof == "" {
		return fmt.Errorf("%w: proof", ErrMissingField)
	}
	return nil
}

// VoteRequest is the inbound block vote message
type VoteRequest struct {
	BlockHash   string `json:"block_hash"`
	ValidatorID string `json:"validator_id"`
	Vote        string `json:"vote"`
}

// Validate checks all required fields are present
func (r *VoteRequest) Validate() error {
	if r.BlockHash == "" {
		return fmt.Errorf("%w: block_hash", ErrMissingField)
	}
	if r.ValidatorID == "" {
		return fmt.Errorf("%w: validator_id", ErrMissingField)
	}
	if r.Vote != VoteChoiceAccept && r.Vote != VoteChoiceReject {
		return fmt.Errorf("%w: vote must be %q or %q", ErrMissingField, VoteChoiceAccept, VoteChoiceReject)
	}
	return nil
}
