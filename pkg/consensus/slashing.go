package consensus

import (
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// rewardNudge is the reputation delta applied alongside a stake reward
const rewardNudge = 0.01

// SlashingEngine applies economic penalties and rewards. A slash deducts a
// stake fraction and decays reputation; the registry enforces the activation
// floor in the same critical section.
type SlashingEngine struct {
	registry    *Registry
	softDecay   float64
	severeDecay float64

	events *eventBus
	logger *zap.Logger
}

// NewSlashingEngine creates a slashing engine over the registry
func NewSlashingEngine(registry *Registry, cfg *config.SlashingConfig, events *eventBus, logger *zap.Logger) *SlashingEngine {
	return &SlashingEngine{
		registry:    registry,
		softDecay:   cfg.SoftDecay,
		severeDecay: cfg.SevereDecay,
		events:      events,
		logger:      logger,
	}
}

// Slash applies a penalty with the soft reputation decay
func (s *SlashingEngine) Slash(validatorID, reason, evidence string, fraction float64) (*data.SlashingRecord, error) {
	return s.slash(validatorID, reason, evidence, fraction, s.softDecay)
}

// SlashSevere applies a penalty with the severe reputation decay, used for
// repeated or provably malicious offenses.
func (s *SlashingEngine) SlashSevere(validatorID, reason, evidence string, fraction float64) (*data.SlashingRecord, error) {
	return s.slash(validatorID, reason, evidence, fraction, s.severeDecay)
}

func (s *SlashingEngine) slash(validatorID, reason, evidence string, fraction, decay float64) (*data.SlashingRecord, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, ErrInvalidAmount
	}

	rec, err := s.registry.applySlash(validatorID, reason, evidence, fraction, decay)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Validator slashed",
		zap.String("validator", validatorID),
		zap.String("reason", reason),
		zap.Uint64("amount", rec.SlashAmount),
		zap.Float64("fraction", fraction))

	evt := data.NewEvent(data.EventValidatorSlashed)
	evt.ValidatorID = validatorID
	evt.Amount = rec.SlashAmount
	evt.Reason = reason
	evt.Attributes = map[string]string{"evidence": evidence}
	s.events.Publish(evt)

	return rec, nil
}

// Reward credits stake to a validator and nudges its reputation upward
func (s *SlashingEngine) Reward(validatorID, reason string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}

	if err := s.registry.applyReward(validatorID, amount, rewardNudge); err != nil {
		return err
	}

	s.logger.Debug("Validator rewarded",
		zap.String("validator", validatorID),
		zap.String("reason", reason),
		zap.Uint64("amount", amount))

	evt := data.NewEvent(data.EventValidatorRewarded)
	evt.ValidatorID = validatorID
	evt.Amount = amount
	evt.Reason = reason
	s.events.Publish(evt)

	return nil
}
