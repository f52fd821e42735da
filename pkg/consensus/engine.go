package consensus

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

// SignatureVerifier checks a validator's signature over a message. The engine
// treats key handling as an external concern.
type SignatureVerifier interface {
	Verify(publicKey, message, signature []byte) bool
}

// Engine is the facade over the consensus components. All inbound messages
// pass through its Handle methods, which validate, verify, and dispatch; all
// state changes flow out as events on the Events channel.
type Engine struct {
	cfg *config.Config

	registry   *Registry
	slashing   *SlashingEngine
	challenges *ChallengeManager
	producer   *BlockProducer
	voting     *VotingCoordinator
	verifier   *WorkVerifier
	epochs     *EpochController
	metrics    *MetricsReporter

	sigVerifier SignatureVerifier
	events      *eventBus
	logger      *zap.Logger
}

// RegisterResult reports a successful registration
type RegisterResult struct {
	Index             int       `json:"index"`
	NextEpochBoundary time.Time `json:"next_epoch_boundary"`
}

// NewEngine assembles the consensus engine from configuration. The signature
// verifier may be nil, in which case work submission signatures are not
// checked.
func NewEngine(cfg *config.Config, sigVerifier SignatureVerifier, logger *zap.Logger) *Engine {
	events := newEventBus(defaultEventBuffer, logger)

	registry := NewRegistry(&cfg.Consensus, events, logger)
	slashing := NewSlashingEngine(registry, &cfg.Slashing, events, logger)
	challenges := NewChallengeManager(registry, slashing, &cfg.Challenge, events, logger)
	epochs := NewEpochController(registry, &cfg.Consensus, events, logger)
	producer := NewBlockProducer(registry, epochs, slashing, &cfg.Consensus, events, logger)
	voting := NewVotingCoordinator(registry, producer, &cfg.Consensus, events, logger)
	verifier := NewWorkVerifier(registry, challenges, producer, &cfg.Consensus, events, logger)
	metrics := NewMetricsReporter(registry, verifier, challenges, producer, voting, epochs, logger)

	return &Engine{
		cfg:         cfg,
		registry:    registry,
		slashing:    slashing,
		challenges:  challenges,
		producer:    producer,
		voting:      voting,
		verifier:    verifier,
		epochs:      epochs,
		metrics:     metrics,
		sigVerifier: sigVerifier,
		events:      events,
		logger:      logger,
	}
}

// Events returns the outbound event channel. The consumer should drain it
// continuously; the engine drops events rather than block.
func (e *Engine) Events() <-chan data.Event {
	return e.events.Events()
}

// Close shuts down the event channel
func (e *Engine) Close() {
	e.events.Close()
}

// HandleRegister admits a new validator
func (e *Engine) HandleRegister(req *data.RegisterRequest) (*RegisterResult, error) {
	if req == nil {
		return nil, ErrMalformedRequest
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	index, err := e.registry.Register(req.ValidatorID, req.PublicKey, req.Stake,
		req.ComputeCapacity, req.Endpoint, req.Metadata, e.epochs.Epoch())
	if err != nil {
		return nil, err
	}

	return &RegisterResult{
		Index:             index,
		NextEpochBoundary: e.epochs.NextBoundary(),
	}, nil
}

// HandleWork verifies a claimed unit of work. When the request carries a
// signature and the engine has a verifier, the signature must cover the proof
// digest.
func (e *Engine) HandleWork(req *data.WorkRequest) (*SubmitResult, error) {
	if req == nil {
		return nil, ErrMalformedRequest
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if len(req.Signature) > 0 && e.sigVerifier != nil {
		v, err := e.registry.Get(req.ValidatorID)
		if err != nil {
			return nil, ErrUnknownValidator
		}
		if !e.sigVerifier.Verify(v.PublicKey, []byte(req.Proof), req.Signature) {
			return nil, ErrInvalidSignature
		}
	}

	return e.verifier.SubmitWork(req.ValidatorID, req.TaskID, req.InputHash,
		req.OutputHash, req.Proof, req.ExecutionTimeMs)
}

// HandleChallengeResponse records a challenger's re-computation result
func (e *Engine) HandleChallengeResponse(req *data.ChallengeResponseRequest) error {
	if req == nil {
		return ErrMalformedRequest
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	return e.challenges.Respond(req.ChallengeID, req.ValidatorID, req.OutputHash, req.Proof)
}

// HandleVote records a stake-weighted vote on the candidate block
func (e *Engine) HandleVote(req *data.VoteRequest) (*data.VotingRound, error) {
	if req == nil {
		return nil, ErrMalformedRequest
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	return e.voting.CastVote(req.BlockHash, req.ValidatorID, req.Vote == data.VoteChoiceAccept)
}

// ProduceBlock proposes the next block on behalf of a validator
func (e *Engine) ProduceBlock(validatorID string) (*data.Block, error) {
	if validatorID == "" {
		return nil, ErrMalformedRequest
	}
	return e.producer.ProduceBlock(validatorID)
}

// IncreaseStake adds stake to a validator
func (e *Engine) IncreaseStake(validatorID string, amount uint64) error {
	return e.registry.IncreaseStake(validatorID, amount)
}

// DecreaseStake withdraws stake from a validator
func (e *Engine) DecreaseStake(validatorID string, amount uint64) error {
	return e.registry.DecreaseStake(validatorID, amount)
}

// SweepChallenges resolves challenges past their deadline
func (e *Engine) SweepChallenges(now time.Time) int {
	return e.challenges.ExpireDue(now)
}

// SweepVoting abandons the open voting round if it has timed out
func (e *Engine) SweepVoting(now time.Time) int {
	return e.voting.ExpireDue(now)
}

// Snapshot captures a point-in-time view of consensus health
func (e *Engine) Snapshot() *Snapshot {
	return e.metrics.Snapshot()
}

// LogSummary writes a one-line state summary at info level
func (e *Engine) LogSummary() {
	e.metrics.LogSummary()
}

// Registry exposes the validator registry for read access
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Producer exposes the block producer for read access
func (e *Engine) Producer() *BlockProducer {
	return e.producer
}

// Challenges exposes the challenge manager for read access
func (e *Engine) Challenges() *ChallengeManager {
	return e.challenges
}

// Epochs exposes the epoch controller for read access
func (e *Engine) Epochs() *EpochController {
	return e.epochs
}
