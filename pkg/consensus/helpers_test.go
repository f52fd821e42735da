package consensus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compute_consensus/pkg/config"
	"compute_consensus/pkg/data"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		LogLevel:    "debug",
		Consensus: config.ConsensusConfig{
			MinStake:             1000,
			MaxValidators:        100,
			EpochLength:          100,
			EpochInterval:        time.Hour,
			VotingTimeout:        30 * time.Second,
			BlockCapacity:        1000,
			ScoreWindow:          100,
			ChallengeProbability: 0,
			ProducerReward:       100,
		},
		Challenge: config.ChallengeConfig{
			ChallengerCount:    3,
			ResponseWindow:     5 * time.Minute,
			ByzantineThreshold: 0.33,
			RewardAmount:       50,
			PenaltyFraction:    0.1,
		},
		Slashing: config.SlashingConfig{
			SoftDecay:   0.9,
			SevereDecay: 0.7,
		},
		Scheduler: config.SchedConfig{
			MaxConcurrent: 4,
			RetryAttempts: 3,
			RetryDelay:    time.Second,
		},
		Database: config.DatabaseConfig{
			Embedded: true,
			MaxConns: 10,
			MinConns: 2,
			Timeout:  30 * time.Second,
		},
		Security: config.SecurityConfig{
			TokenExpiry: time.Hour,
		},
	}
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	return NewEngine(cfg, nil, zap.NewNop())
}

func registerValidator(t *testing.T, e *Engine, id string, stake uint64) {
	t.Helper()

	_, err := e.HandleRegister(&data.RegisterRequest{
		ValidatorID:     id,
		PublicKey:       []byte("pubkey-" + id),
		Stake:           stake,
		ComputeCapacity: 8,
		Metadata:        map[string]string{},
	})
	require.NoError(t, err)
}

// registerQuorum registers n validators v1..vn with equal stakes
func registerQuorum(t *testing.T, e *Engine, n int, stake uint64) []string {
	t.Helper()

	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("v%d", i)
		registerValidator(t, e, id, stake)
		ids = append(ids, id)
	}
	return ids
}

func workRequest(validatorID, taskID, inputHash, outputHash string, execMs int64) *data.WorkRequest {
	return &data.WorkRequest{
		ValidatorID:     validatorID,
		TaskID:          taskID,
		InputHash:       inputHash,
		OutputHash:      outputHash,
		Proof:           data.ProofDigest(inputHash, outputHash, execMs),
		ExecutionTimeMs: execMs,
	}
}

// finalizeBlock produces a block as the current rotation producer and accepts
// it with every validator's vote
func finalizeBlock(t *testing.T, e *Engine, ids []string) *data.Block {
	t.Helper()

	producerID, err := e.Epochs().ProducerForHeight(e.Producer().Height())
	require.NoError(t, err)

	block, err := e.ProduceBlock(producerID)
	require.NoError(t, err)

	for _, id := range ids {
		_, err := e.HandleVote(&data.VoteRequest{
			BlockHash:   block.Hash,
			ValidatorID: id,
			Vote:        data.VoteChoiceAccept,
		})
		if err != nil {
			// The round closes as soon as quorum is reached
			require.ErrorIs(t, err, ErrRoundComplete)
			break
		}
	}

	return block
}
