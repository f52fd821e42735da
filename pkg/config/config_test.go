package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := []byte(`
environment: production
log_level: debug
consensus:
  min_stake: 5000
  max_validators: 20
  epoch_length: 50
  voting_timeout: 10s
  challenge_probability: 0.25
challenge:
  challenger_count: 5
  response_window: 2m
database:
  embedded: false
  url: postgres://localhost:5432/consensus
`)

	err := os.WriteFile(configPath, configContent, 0644)
	require.NoError(t, err)

	t.Run("LoadValidConfig", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)
		assert.NotNil(t, cfg)

		// Verify loaded values
		assert.Equal(t, "production", cfg.Environment)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, uint64(5000), cfg.Consensus.MinStake)
		assert.Equal(t, 20, cfg.Consensus.MaxValidators)
		assert.Equal(t, uint64(50), cfg.Consensus.EpochLength)
		assert.Equal(t, 10*time.Second, cfg.Consensus.VotingTimeout)
		assert.Equal(t, 0.25, cfg.Consensus.ChallengeProbability)
		assert.Equal(t, 5, cfg.Challenge.ChallengerCount)
		assert.Equal(t, 2*time.Minute, cfg.Challenge.ResponseWindow)
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		cfg, err := Load(configPath)
		require.NoError(t, err)

		// Values not in the file come from defaults
		assert.Equal(t, 0.33, cfg.Challenge.ByzantineThreshold)
		assert.Equal(t, 0.9, cfg.Slashing.SoftDecay)
		assert.Equal(t, 0.7, cfg.Slashing.SevereDecay)
		assert.Equal(t, 1000, cfg.Consensus.BlockCapacity)
		assert.Equal(t, 100, cfg.Consensus.ScoreWindow)
		assert.Equal(t, 24*time.Hour, cfg.Security.TokenExpiry)
	})

	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), cfg.Consensus.MinStake)
		assert.Equal(t, 3, cfg.Challenge.ChallengerCount)
		assert.True(t, cfg.Database.Embedded)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Consensus: ConsensusConfig{
				MinStake:             1000,
				MaxValidators:        100,
				EpochLength:          100,
				VotingTimeout:        30 * time.Second,
				BlockCapacity:        1000,
				ScoreWindow:          100,
				ChallengeProbability: 0.1,
			},
			Challenge: ChallengeConfig{
				ChallengerCount:    3,
				ResponseWindow:     5 * time.Minute,
				ByzantineThreshold: 0.33,
				PenaltyFraction:    0.1,
			},
			Slashing: SlashingConfig{SoftDecay: 0.9, SevereDecay: 0.7},
			Scheduler: SchedConfig{
				MaxConcurrent: 4,
				RetryAttempts: 3,
				RetryDelay:    time.Second,
			},
			Database: DatabaseConfig{
				Embedded: true,
				MaxConns: 10,
				MinConns: 2,
				Timeout:  30 * time.Second,
			},
			Security: SecurityConfig{TokenExpiry: time.Hour},
		}
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("ZeroMinStake", func(t *testing.T) {
		cfg := base()
		cfg.Consensus.MinStake = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadByzantineThreshold", func(t *testing.T) {
		cfg := base()
		cfg.Challenge.ByzantineThreshold = 0.6
		assert.Error(t, cfg.Validate())
	})

	t.Run("BadChallengeProbability", func(t *testing.T) {
		cfg := base()
		cfg.Consensus.ChallengeProbability = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("ExternalDatabaseNeedsURL", func(t *testing.T) {
		cfg := base()
		cfg.Database.Embedded = false
		cfg.Database.URL = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestGetLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "warn"}
	assert.Equal(t, "warn", cfg.GetLogLevel().String())

	cfg.LogLevel = "bogus"
	assert.Equal(t, "info", cfg.GetLogLevel().String())
}
