package consensus

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// BlockProducer assembles candidate blocks from the pending submission pool
// and tracks the finalized chain. Only the validator in the current rotation
// slot may propose, and only one proposal is in flight at a time.
type BlockProducer struct {
	registry *Registry
	epochs   *EpochController
	slashing *SlashingEngine
	voting   *VotingCoordinator

	pending    map[string]*data.WorkSubmission
	blocks     map[uint64]*data.Block
	candidate  *data.Block
	nextHeight uint64

	blockCapacity  int
	producerReward uint64

	finalized uint64
	abandoned uint64

	events *eventBus
	logger *zap.Logger
	mu     sync.RWMutex
}

// ChainStats summarizes the chain and the pending pool
type ChainStats struct {
	Height    uint64 `json:"height"`
	Finalized uint64 `json:"finalized"`
	Abandoned uint64 `json:"abandoned"`
	Pending   int    `json:"pending"`
}

// NewBlockProducer creates a block producer with an empty chain
func NewBlockProducer(registry *Registry, epochs *EpochController, slashing *SlashingEngine, cfg *config.ConsensusConfig, events *eventBus, logger *zap.Logger) *BlockProducer {
	return &BlockProducer{
		registry:       registry,
		epochs:         epochs,
		slashing:       slashing,
		pending:        make(map[string]*data.WorkSubmission),
		blocks:         make(map[uint64]*data.Block),
		blockCapacity:  cfg.BlockCapacity,
		producerReward: cfg.ProducerReward,
		events:         events,
		logger:         logger,
	}
}

// bindVoting wires the voting coordinator after construction. The producer
// and coordinator reference each other; the coordinator is built second.
func (p *BlockProducer) bindVoting(v *VotingCoordinator) {
	p.voting = v
}

// AddPending adds a verified submission to the pool for inclusion in a future
// block
func (p *BlockProducer) AddPending(sub *data.WorkSubmission) {
	if sub == nil || !sub.Verified {
		return
	}

	p.mu.Lock()
	p.pending[sub.ID] = sub
	p.mu.Unlock()
}

// PendingCount returns the size of the pending pool
func (p *BlockProducer) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

// ProduceBlock assembles a candidate block at the next height and opens a
// voting round for it. The caller must be the validator in the rotation slot
// for that height. Pending submissions stay in the pool until the block
// finalizes, so an abandoned proposal loses nothing.
func (p *BlockProducer) ProduceBlock(validatorID string) (*data.Block, error) {
	p.mu.Lock()
	if p.candidate != nil {
		p.mu.Unlock()
		return nil, ErrProposalInProgress
	}

	producerID, err := p.epochs.ProducerForHeight(p.nextHeight)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if producerID != validatorID {
		p.mu.Unlock()
		return nil, ErrNotCurrentProducer
	}

	prevHash := data.ZeroHash
	if p.nextHeight > 0 {
		prev, ok := p.blocks[p.nextHeight-1]
		if !ok {
			p.mu.Unlock()
			return nil, ErrChainDiscontinuity
		}
		prevHash = prev.Hash
	}

	block := data.NewBlock(p.nextHeight, validatorID, prevHash, p.selectSubmissionsLocked(), time.Now().UTC())
	p.candidate = block
	p.mu.Unlock()

	p.logger.Info("Block proposed",
		zap.Uint64("height", block.Height),
		zap.String("producer", validatorID),
		zap.Int("submissions", len(block.Submissions)),
		zap.String("hash", block.Hash))

	evt := data.NewEvent(data.EventBlockProposed)
	evt.ValidatorID = validatorID
	evt.BlockHash = block.Hash
	evt.Height = block.Height
	p.events.Publish(evt)

	p.voting.OpenRound(block)
	return block, nil
}

// Block returns the finalized block at the given height
func (p *BlockProducer) Block(height uint64) (*data.Block, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b, ok := p.blocks[height]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Latest returns the most recently finalized block, or nil for an empty chain
func (p *BlockProducer) Latest() *data.Block {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.nextHeight == 0 {
		return nil
	}
	return p.blocks[p.nextHeight-1]
}

// Height returns the next height to be produced, which equals the number of
// finalized blocks
func (p *BlockProducer) Height() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextHeight
}

// Candidate returns the block currently under vote, or nil
func (p *BlockProducer) Candidate() *data.Block {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candidate
}

// Stats summarizes the chain state
func (p *BlockProducer) Stats() ChainStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ChainStats{
		Height:    p.nextHeight,
		Finalized: p.finalized,
		Abandoned: p.abandoned,
		Pending:   len(p.pending),
	}
}

// selectSubmissionsLocked picks up to blockCapacity pending submissions,
// highest verification score first, id as tiebreak for determinism.
func (p *BlockProducer) selectSubmissionsLocked() []*data.WorkSubmission {
	selected := make([]*data.WorkSubmission, 0, len(p.pending))
	for _, sub := range p.pending {
		selected = append(selected, sub)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].VerificationScore != selected[j].VerificationScore {
			return selected[i].VerificationScore > selected[j].VerificationScore
		}
		return selected[i].ID < selected[j].ID
	})
	if len(selected) > p.blockCapacity {
		selected = selected[:p.blockCapacity]
	}
	return selected
}

// commit appends the candidate block to the chain after its round finalized.
// Called by the voting coordinator with no locks held.
func (p *BlockProducer) commit(round *data.VotingRound) {
	p.mu.Lock()
	block := p.candidate
	if block == nil || block.Hash != round.BlockHash {
		p.mu.Unlock()
		p.logger.Error("Finalized round does not match candidate block",
			zap.String("round_hash", round.BlockHash))
		return
	}

	p.blocks[block.Height] = block
	for _, sub := range block.Submissions {
		delete(p.pending, sub.ID)
	}
	p.candidate = nil
	p.nextHeight = block.Height + 1
	p.finalized++
	p.mu.Unlock()

	p.logger.Info("Block finalized",
		zap.Uint64("height", block.Height),
		zap.String("hash", block.Hash),
		zap.Uint64("accept_stake", round.AcceptStake),
		zap.Uint64("threshold", round.Threshold))

	evt := data.NewEvent(data.EventBlockFinalized)
	evt.BlockHash = block.Hash
	evt.Height = block.Height
	evt.ValidatorID = block.ProducerID
	p.events.Publish(evt)

	if p.producerReward > 0 {
		if err := p.slashing.Reward(block.ProducerID, "block_production", p.producerReward); err != nil {
			p.logger.Error("Failed to reward producer",
				zap.String("validator", block.ProducerID),
				zap.Error(err))
		}
	}

	if block.Height > 0 && block.Height%p.epochs.EpochLength() == 0 {
		p.epochs.Advance(block.Height)
	}
}

// abandon discards the candidate block after its round was rejected or timed
// out. Its submissions remain pending for the next proposal.
func (p *BlockProducer) abandon(round *data.VotingRound) {
	p.mu.Lock()
	block := p.candidate
	if block == nil || block.Hash != round.BlockHash {
		p.mu.Unlock()
		return
	}
	p.candidate = nil
	p.abandoned++
	p.mu.Unlock()

	p.logger.Warn("Block abandoned",
		zap.Uint64("height", block.Height),
		zap.String("hash", block.Hash),
		zap.String("outcome", string(round.Outcome)))

	evt := data.NewEvent(data.EventBlockAbandoned)
	evt.BlockHash = block.Hash
	evt.Height = block.Height
	evt.ValidatorID = block.ProducerID
	p.events.Publish(evt)
}
