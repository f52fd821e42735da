package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("SucceedsFirstTry", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return nil
		}, fastRetryConfig())
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, fastRetryConfig())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		boom := errors.New("boom")
		err := RetryWithBackoff(context.Background(), func() error {
			return boom
		}, fastRetryConfig())
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("NonRetryableFailsImmediately", func(t *testing.T) {
		fatal := errors.New("fatal")
		transient := errors.New("transient")
		cfg := fastRetryConfig()
		cfg.RetryableErrors = []error{transient}

		calls := 0
		err := RetryWithBackoff(context.Background(), func() error {
			calls++
			return fatal
		}, cfg)
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := RetryWithBackoff(ctx, func() error {
			return errors.New("transient")
		}, fastRetryConfig())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSafeGo(t *testing.T) {
	var done int64
	SafeGo(zap.NewNop(), func() {
		defer atomic.StoreInt64(&done, 1)
		panic("should be recovered")
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&done) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAddJitter(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, base, addJitter(base, 0))

	for i := 0; i < 20; i++ {
		jittered := addJitter(base, 0.2)
		assert.GreaterOrEqual(t, jittered, base)
		assert.LessOrEqual(t, jittered, base+20*time.Millisecond)
	}
}
