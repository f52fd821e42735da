package consensus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// VotingCoordinator runs one stake-weighted voting round per candidate block.
// A block finalizes when the accepting stake reaches two thirds of the active
// stake snapshotted at proposal time, and is abandoned when the rejecting
// stake reaches the same threshold or the round times out.
type VotingCoordinator struct {
	registry *Registry
	producer *BlockProducer

	round   *data.VotingRound
	archive map[string]*data.VotingRound

	votingTimeout time.Duration

	finalized uint64
	abandoned uint64
	timedOut  uint64

	events *eventBus
	logger *zap.Logger
	mu     sync.Mutex
}

// VotingStats summarizes voting activity
type VotingStats struct {
	RoundOpen bool   `json:"round_open"`
	Finalized uint64 `json:"finalized"`
	Abandoned uint64 `json:"abandoned"`
	TimedOut  uint64 `json:"timed_out"`
}

// NewVotingCoordinator creates a voting coordinator bound to the producer
func NewVotingCoordinator(registry *Registry, producer *BlockProducer, cfg *config.ConsensusConfig, events *eventBus, logger *zap.Logger) *VotingCoordinator {
	vc := &VotingCoordinator{
		registry:      registry,
		producer:      producer,
		archive:       make(map[string]*data.VotingRound),
		votingTimeout: cfg.VotingTimeout,
		events:        events,
		logger:        logger,
	}
	producer.bindVoting(vc)
	return vc
}

// OpenRound opens a voting round for a freshly proposed block. The producer
// guarantees a single proposal in flight.
func (vc *VotingCoordinator) OpenRound(block *data.Block) *data.VotingRound {
	round := data.NewVotingRound(block, vc.registry.TotalActiveStake(), vc.votingTimeout)

	vc.mu.Lock()
	vc.round = round
	vc.mu.Unlock()

	vc.logger.Info("Voting round opened",
		zap.String("block", block.Hash),
		zap.Uint64("height", block.Height),
		zap.Uint64("total_stake", round.TotalStake),
		zap.Uint64("threshold", round.Threshold))

	return round
}

// CastVote records a validator's vote, weighted by its current stake. The
// vote is tallied atomically with the duplicate check, and the round resolves
// immediately once either side reaches the threshold.
func (vc *VotingCoordinator) CastVote(blockHash, validatorID string, accept bool) (*data.VotingRound, error) {
	stake, active, err := vc.registry.StakeOf(validatorID)
	if err != nil {
		return nil, ErrUnknownValidator
	}
	if !active {
		return nil, ErrInactiveValidator
	}

	vc.mu.Lock()

	round := vc.round
	if round == nil || round.BlockHash != blockHash {
		if archived, ok := vc.archive[blockHash]; ok && archived.Completed {
			vc.mu.Unlock()
			return nil, ErrRoundComplete
		}
		vc.mu.Unlock()
		return nil, ErrRoundNotFound
	}
	if _, dup := round.Votes[validatorID]; dup {
		vc.mu.Unlock()
		return nil, ErrDuplicateVote
	}

	round.Votes[validatorID] = &data.Vote{
		ValidatorID: validatorID,
		BlockHash:   blockHash,
		Accept:      accept,
		Stake:       stake,
		CastAt:      time.Now().UTC(),
	}
	if accept {
		round.AcceptStake += stake
	} else {
		round.RejectStake += stake
	}

	var outcome data.RoundOutcome
	switch {
	case round.AcceptStake >= round.Threshold:
		outcome = data.RoundOutcomeFinalized
	case round.RejectStake >= round.Threshold:
		outcome = data.RoundOutcomeAbandoned
	default:
		vc.mu.Unlock()
		return round, nil
	}

	vc.closeRoundLocked(round, outcome)
	vc.mu.Unlock()

	// The producer is called without the coordinator lock held
	if outcome == data.RoundOutcomeFinalized {
		vc.producer.commit(round)
	} else {
		vc.producer.abandon(round)
	}

	return round, nil
}

// Round returns the round for a block hash, open or archived
func (vc *VotingCoordinator) Round(blockHash string) (*data.VotingRound, error) {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.round != nil && vc.round.BlockHash == blockHash {
		return vc.round, nil
	}
	if round, ok := vc.archive[blockHash]; ok {
		return round, nil
	}
	return nil, ErrRoundNotFound
}

// HasOpenRound reports whether a round is currently accepting votes
func (vc *VotingCoordinator) HasOpenRound() bool {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.round != nil
}

// ExpireDue abandons the open round if its deadline has passed. Returns 1 if
// a round was expired.
func (vc *VotingCoordinator) ExpireDue(now time.Time) int {
	vc.mu.Lock()

	round := vc.round
	if round == nil || !now.After(round.Deadline) {
		vc.mu.Unlock()
		return 0
	}

	vc.closeRoundLocked(round, data.RoundOutcomeAbandoned)
	vc.timedOut++
	vc.mu.Unlock()

	vc.logger.Warn("Voting round timed out",
		zap.String("block", round.BlockHash),
		zap.Uint64("height", round.Height),
		zap.Uint64("accept_stake", round.AcceptStake),
		zap.Uint64("reject_stake", round.RejectStake))

	vc.producer.abandon(round)
	return 1
}

// Stats summarizes voting activity
func (vc *VotingCoordinator) Stats() VotingStats {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return VotingStats{
		RoundOpen: vc.round != nil,
		Finalized: vc.finalized,
		Abandoned: vc.abandoned,
		TimedOut:  vc.timedOut,
	}
}

func (vc *VotingCoordinator) closeRoundLocked(round *data.VotingRound, outcome data.RoundOutcome) {
	round.Completed = true
	round.Outcome = outcome
	vc.archive[round.BlockHash] = round
	vc.round = nil

	if outcome == data.RoundOutcomeFinalized {
		vc.finalized++
	} else {
		vc.abandoned++
	}
}
