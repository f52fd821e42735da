package consensus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"compute_consensus/pkg/data"
)

// MetricsReporter assembles point-in-time snapshots of the engine state.
// Snapshots are immutable copies; mutating one never touches live state.
type MetricsReporter struct {
	registry   *Registry
	verifier   *WorkVerifier
	challenges *ChallengeManager
	producer   *BlockProducer
	voting     *VotingCoordinator
	epochs     *EpochController

	last *Snapshot

	logger *zap.Logger
	mu     sync.Mutex
}

// Snapshot is a point-in-time view of consensus health
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Height    uint64    `json:"height"`
	Epoch     uint64    `json:"epoch"`

	Validators  RegistryStats  `json:"validators"`
	Submissions VerifierStats  `json:"submissions"`
	Challenges  ChallengeStats `json:"challenges"`
	Chain       ChainStats     `json:"chain"`
	Voting      VotingStats    `json:"voting"`

	RecentChallenges     []data.ChallengeOutcome `json:"recent_challenges,omitempty"`
	ValidatorPerformance map[string]float64      `json:"validator_performance,omitempty"`
}

// NewMetricsReporter creates a metrics reporter over the engine components
func NewMetricsReporter(registry *Registry, verifier *WorkVerifier, challenges *ChallengeManager, producer *BlockProducer, voting *VotingCoordinator, epochs *EpochController, logger *zap.Logger) *MetricsReporter {
	return &MetricsReporter{
		registry:   registry,
		verifier:   verifier,
		challenges: challenges,
		producer:   producer,
		voting:     voting,
		epochs:     epochs,
		logger:     logger,
	}
}

// Snapshot captures the current engine state
func (m *MetricsReporter) Snapshot() *Snapshot {
	perf := make(map[string]float64)
	for _, v := range m.registry.ActiveValidators() {
		perf[v.ID] = v.PerformanceScore
	}

	snap := &Snapshot{
		Timestamp:            time.Now().UTC(),
		Height:               m.producer.Height(),
		Epoch:                m.epochs.Epoch(),
		Validators:           m.registry.Stats(),
		Submissions:          m.verifier.Stats(),
		Challenges:           m.challenges.Stats(),
		Chain:                m.producer.Stats(),
		Voting:               m.voting.Stats(),
		RecentChallenges:     m.challenges.RecentOutcomes(),
		ValidatorPerformance: perf,
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	return snap
}

// Last returns the most recent snapshot, or nil if none was taken
func (m *MetricsReporter) Last() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// LogSummary writes a one-line summary of the current state
func (m *MetricsReporter) LogSummary() {
	snap := m.Snapshot()
	m.logger.Info("Consensus snapshot",
		zap.Uint64("height", snap.Height),
		zap.Uint64("epoch", snap.Epoch),
		zap.Int("active_validators", snap.Validators.Active),
		zap.Uint64("active_stake", snap.Validators.TotalActiveStake),
		zap.Int("pending_submissions", snap.Chain.Pending),
		zap.Uint64("challenges_issued", snap.Challenges.Issued))
}
