package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the consensus node
type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Consensus   ConsensusConfig `mapstructure:"consensus"`
	Challenge   ChallengeConfig `mapstructure:"challenge"`
	Slashing    SlashingConfig  `mapstructure:"slashing"`
	Scheduler   SchedConfig     `mapstructure:"scheduler"`
	Security    SecurityConfig  `mapstructure:"security"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	Embedded bool          `mapstructure:"embedded"`
	Port     int           `mapstructure:"port"`
	DataDir  string        `mapstructure:"data_dir"`
	MaxConns int           `mapstructure:"max_conns"`
	MinConns int           `mapstructure:"min_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
	SSLMode  string        `mapstructure:"ssl_mode"`
}

// ConsensusConfig holds validator set and block production settings
type ConsensusConfig struct {
	MinStake             uint64        `mapstructure:"min_stake"`
	MaxValidators        int           `mapstructure:"max_validators"`
	EpochLength          uint64        `mapstructure:"epoch_length"`
	EpochInterval        time.Duration `mapstructure:"epoch_interval"`
	VotingTimeout        time.Duration `mapstructure:"voting_timeout"`
	BlockCapacity        int           `mapstructure:"block_capacity"`
	ScoreWindow          int           `mapstructure:"score_window"`
	ChallengeProbability float64       `mapstructure:"challenge_probability"`
	ProducerReward       uint64        `mapstructure:"producer_reward"`
}

// ChallengeConfig holds work re-verification settings
type ChallengeConfig struct {
	ChallengerCount    int           `mapstructure:"challenger_count"`
	ResponseWindow     time.Duration `mapstructure:"response_window"`
	ByzantineThreshold float64       `mapstructure:"byzantine_threshold"`
	RewardAmount       uint64        `mapstructure:"reward_amount"`
	PenaltyFraction    float64       `mapstructure:"penalty_fraction"`
}

// SlashingConfig holds reputation decay settings for penalties
type SlashingConfig struct {
	SoftDecay   float64 `mapstructure:"soft_decay"`
	SevereDecay float64 `mapstructure:"severe_decay"`
}

// SchedConfig holds housekeeping scheduler settings
type SchedConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// SecurityConfig holds key material and token settings
type SecurityConfig struct {
	KeyFile     string        `mapstructure:"key_file"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	// Read the config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	// Override with environment variables
	v.SetEnvPrefix("POC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Consensus defaults
	v.SetDefault("consensus.min_stake", 1000)
	v.SetDefault("consensus.max_validators", 100)
	v.SetDefault("consensus.epoch_length", 100)
	v.SetDefault("consensus.epoch_interval", "1h")
	v.SetDefault("consensus.voting_timeout", "30s")
	v.SetDefault("consensus.block_capacity", 1000)
	v.SetDefault("consensus.score_window", 100)
	v.SetDefault("consensus.challenge_probability", 0.1)
	v.SetDefault("consensus.producer_reward", 100)

	// Challenge defaults
	v.SetDefault("challenge.challenger_count", 3)
	v.SetDefault("challenge.response_window", "5m")
	v.SetDefault("challenge.byzantine_threshold", 0.33)
	v.SetDefault("challenge.reward_amount", 50)
	v.SetDefault("challenge.penalty_fraction", 0.1)

	// Slashing defaults
	v.SetDefault("slashing.soft_decay", 0.9)
	v.SetDefault("slashing.severe_decay", 0.7)

	// Scheduler defaults
	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "5s")

	// Security defaults
	v.SetDefault("security.token_expiry", "24h")

	// Database defaults
	v.SetDefault("database.embedded", true)
	v.SetDefault("database.port", 5433)
	v.SetDefault("database.data_dir", "./data/postgres")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.ssl_mode", "disable")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateConsensus(); err != nil {
		return fmt.Errorf("consensus config: %w", err)
	}

	if err := c.validateChallenge(); err != nil {
		return fmt.Errorf("challenge config: %w", err)
	}

	if err := c.validateSlashing(); err != nil {
		return fmt.Errorf("slashing config: %w", err)
	}

	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	return nil
}

func (c *Config) validateConsensus() error {
	if c.Consensus.MinStake == 0 {
		return fmt.Errorf("min_stake must be positive")
	}
	if c.Consensus.MaxValidators <= 0 {
		return fmt.Errorf("max_validators must be positive")
	}
	if c.Consensus.EpochLength == 0 {
		return fmt.Errorf("epoch_length must be positive")
	}
	if c.Consensus.VotingTimeout <= 0 {
		return fmt.Errorf("voting_timeout must be positive")
	}
	if c.Consensus.BlockCapacity <= 0 {
		return fmt.Errorf("block_capacity must be positive")
	}
	if c.Consensus.ScoreWindow <= 0 {
		return fmt.Errorf("score_window must be positive")
	}
	if c.Consensus.ChallengeProbability < 0 || c.Consensus.ChallengeProbability > 1 {
		return fmt.Errorf("challenge_probability must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateChallenge() error {
	if c.Challenge.ChallengerCount <= 0 {
		return fmt.Errorf("challenger_count must be positive")
	}
	if c.Challenge.ResponseWindow <= 0 {
		return fmt.Errorf("response_window must be positive")
	}
	if c.Challenge.ByzantineThreshold <= 0 || c.Challenge.ByzantineThreshold >= 0.5 {
		return fmt.Errorf("byzantine_threshold must be between 0 and 0.5")
	}
	if c.Challenge.PenaltyFraction <= 0 || c.Challenge.PenaltyFraction > 1 {
		return fmt.Errorf("penalty_fraction must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateSlashing() error {
	if c.Slashing.SoftDecay <= 0 || c.Slashing.SoftDecay > 1 {
		return fmt.Errorf("soft_decay must be between 0 and 1")
	}
	if c.Slashing.SevereDecay <= 0 || c.Slashing.SevereDecay > c.Slashing.SoftDecay {
		return fmt.Errorf("severe_decay must be between 0 and soft_decay")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Embedded && c.Database.URL == "" {
		return fmt.Errorf("database URL cannot be empty when embedded mode is disabled")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) cannot be less than min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.TokenExpiry <= 0 {
		return fmt.Errorf("token_expiry must be positive")
	}
	if c.Security.KeyFile != "" {
		if !filepath.IsAbs(c.Security.KeyFile) {
			c.Security.KeyFile = filepath.Clean(c.Security.KeyFile)
		}
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
