package consensus

import (
	"errors"
	"fmt"
)

// Taxonomy kinds. Every rejection wraps exactly one of these, so callers can
// attribute failures with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPolicyViolation    = errors.New("policy violation")
	ErrTimeout            = errors.New("timeout")
	ErrChainDiscontinuity = errors.New("chain discontinuity")
)

// Registry errors
var (
	ErrDuplicateValidator = fmt.Errorf("%w: duplicate validator", ErrPolicyViolation)
	ErrInsufficientStake  = fmt.Errorf("%w: stake below minimum", ErrPolicyViolation)
	ErrRegistryFull       = fmt.Errorf("%w: validator registry full", ErrPolicyViolation)
	ErrValidatorNotFound  = fmt.Errorf("%w: validator", ErrNotFound)
	ErrInvalidAmount      = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrBelowMinimumStake  = fmt.Errorf("%w: stake would drop below minimum", ErrPolicyViolation)
)

// Work verification errors
var (
	ErrUnknownValidator  = fmt.Errorf("%w: unknown validator", ErrNotFound)
	ErrInactiveValidator = fmt.Errorf("%w: validator inactive", ErrPolicyViolation)
	ErrInvalidProof      = fmt.Errorf("%w: proof digest mismatch", ErrInvalidInput)
	ErrInvalidSignature  = fmt.Errorf("%w: signature verification failed", ErrInvalidInput)
)

// Challenge errors
var (
	ErrChallengeNotFound      = fmt.Errorf("%w: challenge", ErrNotFound)
	ErrChallengeNotPending    = fmt.Errorf("%w: challenge already resolved", ErrPolicyViolation)
	ErrUnauthorizedChallenger = fmt.Errorf("%w: validator not an assigned challenger", ErrPolicyViolation)
	ErrDeadlinePassed         = fmt.Errorf("%w: challenge deadline passed", ErrTimeout)
	ErrDuplicateResponse      = fmt.Errorf("%w: duplicate challenge response", ErrPolicyViolation)
)

// Block production and voting errors
var (
	ErrNotCurrentProducer = fmt.Errorf("%w: not the current block producer", ErrPolicyViolation)
	ErrNoActiveValidators = fmt.Errorf("%w: no active validators", ErrPolicyViolation)
	ErrProposalInProgress = fmt.Errorf("%w: a proposal is already being voted on", ErrPolicyViolation)
	ErrRoundNotFound      = fmt.Errorf("%w: voting round", ErrNotFound)
	ErrRoundComplete      = fmt.Errorf("%w: voting round already complete", ErrPolicyViolation)
	ErrDuplicateVote      = fmt.Errorf("%w: validator already voted", ErrPolicyViolation)
)

// Boundary errors
var (
	ErrMalformedRequest = fmt.Errorf("%w: malformed request", ErrInvalidInput)
)
