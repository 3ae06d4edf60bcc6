// Copyright 2025 James Ross
package retry

import (
	"context"
	"testing"
	"time"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsAndClamps(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 5, BaseDelay: 1 * time.Second, MaxDelay: 4 * time.Second, BackoffFactor: 2.0, Jitter: false}
	assert.Equal(t, 1*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(5)) // clamped to MaxDelay
}

func TestBackoffDoRetriesRetryableThenSucceeds(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2.0}
	attempts := 0
	err := p.Do(context.Background(), func(attempt int) error {
		attempts++
		if attempt < 2 {
			return bunsuierr.New(bunsuierr.Throttling, "tabular", "put_session", "throttled")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoffDoStopsOnNonRetryable(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(attempt int) error {
		attempts++
		return bunsuierr.New(bunsuierr.Validation, "tabular", "put_session", "bad input")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := config.CircuitBreaker{FailureThreshold: 0.5, Window: time.Minute, CooldownPeriod: time.Millisecond, MinSamples: 2}
	cb := NewCircuitBreaker("tabular", cfg)

	assert.True(t, cb.Allow())
	cb.Record(false)
	assert.True(t, cb.Allow())
	cb.Record(false)
	assert.Equal(t, Open, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(2 * time.Millisecond)
	assert.True(t, cb.Allow()) // probe admitted in HalfOpen
	assert.Equal(t, HalfOpen, cb.State())
	cb.Record(true)
	assert.Equal(t, Closed, cb.State())
}

func TestCircuitBreakerCallShortCircuitsWhenOpen(t *testing.T) {
	cfg := config.CircuitBreaker{FailureThreshold: 0.1, Window: time.Minute, CooldownPeriod: time.Hour, MinSamples: 1}
	cb := NewCircuitBreaker("object", cfg)
	err := cb.Call(func() error { return bunsuierr.New(bunsuierr.ServiceUnavailable, "object", "put", "down") })
	assert.Error(t, err)

	err = cb.Call(func() error { return nil })
	assert.Error(t, err)
	kind, ok := bunsuierr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, bunsuierr.ServiceUnavailable, kind)
}

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := NewLimiter(100)
	assert.True(t, l.Allow())
}
