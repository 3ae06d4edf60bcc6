// Copyright 2025 James Ross
package retry

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles outbound adapter calls to a configured steady-state
// rate, with a burst equal to the rate itself so a quiet period can absorb
// a short spike.
type Limiter struct {
	l *rate.Limiter
}

func NewLimiter(ratePerSecond float64) *Limiter {
	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// Allow reports whether a call may proceed immediately without blocking.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}
