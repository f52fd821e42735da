package consensus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// EpochController tracks the epoch counter and the producer rotation order.
// The producer for a height is the active validator at position
// height mod activeCount in lexicographic id order, so rotation self-adjusts
// as validators join or drop out.
type EpochController struct {
	registry *Registry

	epoch       uint64
	epochLength uint64
	interval    time.Duration
	rotation    []string
	lastAdvance time.Time

	events *eventBus
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewEpochController creates the controller at epoch zero
func NewEpochController(registry *Registry, cfg *config.ConsensusConfig, events *eventBus, logger *zap.Logger) *EpochController {
	return &EpochController{
		registry:    registry,
		epochLength: cfg.EpochLength,
		interval:    cfg.EpochInterval,
		lastAdvance: time.Now().UTC(),
		events:      events,
		logger:      logger,
	}
}

// Epoch returns the current epoch number
func (ec *EpochController) Epoch() uint64 {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.epoch
}

// EpochLength returns the number of blocks per epoch
func (ec *EpochController) EpochLength() uint64 {
	return ec.epochLength
}

// NextBoundary returns the wall-clock time of the next scheduled epoch
// boundary
func (ec *EpochController) NextBoundary() time.Time {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.lastAdvance.Add(ec.interval)
}

// ProducerForHeight returns the validator entitled to produce the block at the
// given height. Recomputed against the live active set on every call.
func (ec *EpochController) ProducerForHeight(height uint64) (string, error) {
	ids := ec.registry.ActiveIDs()
	if len(ids) == 0 {
		return "", ErrNoActiveValidators
	}
	return ids[height%uint64(len(ids))], nil
}

// Advance moves to the next epoch and snapshots the rotation order
func (ec *EpochController) Advance(height uint64) uint64 {
	rotation := ec.registry.ActiveIDs()

	ec.mu.Lock()
	ec.epoch++
	ec.rotation = rotation
	ec.lastAdvance = time.Now().UTC()
	epoch := ec.epoch
	ec.mu.Unlock()

	ec.logger.Info("Epoch advanced",
		zap.Uint64("epoch", epoch),
		zap.Uint64("height", height),
		zap.Int("validators", len(rotation)))

	evt := data.NewEvent(data.EventEpochAdvanced)
	evt.Epoch = epoch
	evt.Height = height
	ec.events.Publish(evt)

	return epoch
}

// Rotation returns the rotation order snapshotted at the last epoch boundary
func (ec *EpochController) Rotation() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]string(nil), ec.rotation...)
}
