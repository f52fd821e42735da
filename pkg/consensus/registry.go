package consensus

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// Registry maintains the validator set. Validators are admitted with a minimum
// stake, never deleted, and deactivated when stake or reputation falls under
// the admission floor. Deactivation is permanent; rejoining requires a fresh
// registration under a new identity.
type Registry struct {
	validators map[string]*data.Validator
	order      []string

	minStake      uint64
	maxValidators int
	scoreWindow   int

	events *eventBus
	logger *zap.Logger
	mu     sync.RWMutex
}

// RegistryStats summarizes the validator set
type RegistryStats struct {
	Total            int    `json:"total"`
	Active           int    `json:"active"`
	TotalStake       uint64 `json:"total_stake"`
	TotalActiveStake uint64 `json:"total_active_stake"`
}

// NewRegistry creates an empty validator registry
func NewRegistry(cfg *config.ConsensusConfig, events *eventBus, logger *zap.Logger) *Registry {
	return &Registry{
		validators:    make(map[string]*data.Validator),
		minStake:      cfg.MinStake,
		maxValidators: cfg.MaxValidators,
		scoreWindow:   cfg.ScoreWindow,
		events:        events,
		logger:        logger,
	}
}

// Register admits a new validator and returns its registry index
func (r *Registry) Register(id string, publicKey []byte, stake uint64, computeCapacity int64, endpoint string, metadata map[string]string, joinEpoch uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[id]; exists {
		return 0, ErrDuplicateValidator
	}
	if stake < r.minStake {
		return 0, ErrInsufficientStake
	}
	if r.activeCountLocked() >= r.maxValidators {
		return 0, ErrRegistryFull
	}

	v, err := data.NewValidator(id, publicKey, stake, computeCapacity, endpoint, metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	v.JoinEpoch = joinEpoch

	r.validators[id] = v
	r.order = append(r.order, id)
	index := len(r.order) - 1

	r.logger.Info("Validator registered",
		zap.String("validator", id),
		zap.Uint64("stake", stake),
		zap.Uint64("epoch", joinEpoch))

	evt := data.NewEvent(data.EventValidatorRegistered)
	evt.ValidatorID = id
	evt.Amount = stake
	evt.Epoch = joinEpoch
	r.events.Publish(evt)

	return index, nil
}

// Get returns the validator with the given id
func (r *Registry) Get(id string) (*data.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok {
		return nil, ErrValidatorNotFound
	}
	return v, nil
}

// StakeOf returns the validator's stake and active flag, read in one lock
// acquisition. Vote weighting and submission gating use this instead of
// dereferencing the shared record while the registry mutates it.
func (r *Registry) StakeOf(id string) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok {
		return 0, false, ErrValidatorNotFound
	}
	return v.Stake, v.Active, nil
}

// Snapshot returns a deep copy of the validator record, decoupled from
// concurrent registry mutation
func (r *Registry) Snapshot(id string) (*data.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok {
		return nil, ErrValidatorNotFound
	}
	return v.Clone(), nil
}

// IncreaseStake adds stake to an existing validator
func (r *Registry) IncreaseStake(id string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}

	v.Stake += amount
	v.UpdatedAt = time.Now().UTC()

	evt := data.NewEvent(data.EventStakeIncreased)
	evt.ValidatorID = id
	evt.Amount = amount
	r.events.Publish(evt)

	return nil
}

// DecreaseStake withdraws stake from a validator. The withdrawal is rejected
// if it would leave the validator under the minimum stake, so a voluntary
// decrease can never trigger deactivation.
func (r *Registry) DecreaseStake(id string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	if amount > v.Stake || v.Stake-amount < r.minStake {
		return ErrBelowMinimumStake
	}

	v.Stake -= amount
	v.UpdatedAt = time.Now().UTC()

	evt := data.NewEvent(data.EventStakeDecreased)
	evt.ValidatorID = id
	evt.Amount = amount
	r.events.Publish(evt)

	return nil
}

// Deactivate removes a validator from the active set. Idempotent.
func (r *Registry) Deactivate(id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	if !v.Active {
		return nil
	}

	r.deactivateLocked(v, reason)
	return nil
}

// RecordScore folds a verification score into the validator's rolling window
func (r *Registry) RecordScore(id string, score float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}

	v.RecordScore(score, r.scoreWindow)
	return nil
}

// ActiveValidators returns copies of the active set sorted by id
func (r *Registry) ActiveValidators() []*data.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*data.Validator, 0, len(r.validators))
	for _, v := range r.validators {
		if v.Active {
			active = append(active, v.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// ActiveIDs returns the ids of active validators in lexicographic order
func (r *Registry) ActiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.validators))
	for id, v := range r.validators {
		if v.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of active validators
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCountLocked()
}

// TotalActiveStake returns the sum of stake across active validators
func (r *Registry) TotalActiveStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total uint64
	for _, v := range r.validators {
		if v.Active {
			total += v.Stake
		}
	}
	return total
}

// Stats returns a summary of the validator set
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{Total: len(r.validators)}
	for _, v := range r.validators {
		stats.TotalStake += v.Stake
		if v.Active {
			stats.Active++
			stats.TotalActiveStake += v.Stake
		}
	}
	return stats
}

// applySlash deducts a stake fraction, decays reputation, appends the slashing
// record, and enforces the activation floor. All under one lock acquisition so
// concurrent slashes compose correctly.
func (r *Registry) applySlash(id, reason, evidence string, fraction, decay float64) (*data.SlashingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return nil, ErrValidatorNotFound
	}

	slashAmount := uint64(float64(v.Stake) * fraction)
	rec := data.SlashingRecord{
		ID:          uuid.New().String(),
		Reason:      reason,
		Evidence:    evidence,
		SlashAmount: slashAmount,
		Fraction:    fraction,
		Time:        time.Now().UTC(),
	}

	v.Stake -= slashAmount
	v.ScaleReputation(decay)
	v.SlashingHistory = append(v.SlashingHistory, rec)
	v.UpdatedAt = rec.Time

	r.enforceFloorLocked(v, reason)
	return &rec, nil
}

// applyReward credits stake and nudges reputation upward
func (r *Registry) applyReward(id string, amount uint64, nudge float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}

	v.Stake += amount
	v.NudgeReputation(nudge)
	v.UpdatedAt = time.Now().UTC()
	return nil
}

// enforceFloorLocked deactivates a validator whose stake or reputation has
// fallen under the admission floor
func (r *Registry) enforceFloorLocked(v *data.Validator, reason string) {
	if !v.Active {
		return
	}
	if v.Stake >= r.minStake && v.Reputation >= data.ReputationFloor {
		return
	}
	r.deactivateLocked(v, reason)
}

func (r *Registry) deactivateLocked(v *data.Validator, reason string) {
	now := time.Now().UTC()
	v.Active = false
	v.DeactivatedAt = &now
	v.DeactivationNote = reason
	v.UpdatedAt = now

	r.logger.Warn("Validator deactivated",
		zap.String("validator", v.ID),
		zap.String("reason", reason),
		zap.Uint64("stake", v.Stake),
		zap.Float64("reputation", v.Reputation))

	evt := data.NewEvent(data.EventValidatorDeactivated)
	evt.ValidatorID = v.ID
	evt.Reason = reason
	r.events.Publish(evt)
}

func (r *Registry) activeCountLocked() int {
	count := 0
	for _, v := range r.validators {
		if v.Active {
			count++
		}
	}
	return count
}
