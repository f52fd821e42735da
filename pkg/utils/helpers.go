package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds retry operation configuration
type RetryConfig struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	RetryableErrors  []error
	MaxJitterPercent float64
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:      3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		BackoffFactor:    2.0,
		MaxJitterPercent: 0.2,
	}
}

// RetryWithBackoff executes an operation with exponential backoff and jitter
func RetryWithBackoff(ctx context.Context, operation func() error, cfg *RetryConfig) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := operation(); err != nil {
			lastErr = err

			// Check if error is retryable
			if !isRetryableError(err, cfg.RetryableErrors) {
				return err
			}

			// Check context before delay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(delay, cfg.MaxJitterPercent)):
			}

			// Calculate next delay with exponential backoff
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// SafeGo executes a function in a goroutine with panic recovery
func SafeGo(logger *zap.Logger, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()
		fn()
	}()
}

func isRetryableError(err error, retryable []error) bool {
	// All errors retryable when no filter is configured
	if len(retryable) == 0 {
		return true
	}
	for _, r := range retryable {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

func addJitter(d time.Duration, maxPercent float64) time.Duration {
	if maxPercent <= 0 {
		return d
	}
	jitter := rand.Float64() * maxPercent * float64(d)
	return d + time.Duration(jitter)
}
