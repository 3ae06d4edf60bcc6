// Copyright 2025 James Ross
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
)

// BackoffPolicy configures exponential backoff with jitter for adapter calls
// against the tabular, object, and scheduler backends.
type BackoffPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Delay computes the backoff duration for a 0-based attempt number, adding
// up to ±25% jitter and clamping to a 100ms floor when jitter is enabled.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	if p.Jitter {
		jitterRange := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitterRange
		if delay < float64(100*time.Millisecond) {
			delay = float64(100 * time.Millisecond)
		}
	}
	return time.Duration(delay)
}

// Do runs fn up to MaxAttempts times, sleeping with backoff between
// retryable failures. A failure is retryable when bunsuierr.IsRetryable
// reports true, or when fn returns a plain error with no Kind classification
// (treated as retryable so non-bunsuierr adapter errors still get retried).
func (p BackoffPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if kind, ok := bunsuierr.KindOf(err); ok && !bunsuierr.IsRetryable(err) {
			_ = kind
			return err
		}
		if attempt == attempts-1 {
			return err
		}

		delay := p.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
