// Copyright 2025 James Ross
package retry

import (
	"sync"
	"time"

	"github.com/bunsuihq/bunsui/internal/bunsuierr"
	"github.com/bunsuihq/bunsui/internal/config"
)

type BreakerState int

const (
	Closed BreakerState = iota
	HalfOpen
	Open
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

type sample struct {
	t  time.Time
	ok bool
}

// CircuitBreaker guards an adapter (tabular, object, scheduler) with a
// sliding-window failure rate and a cooldown before probing again.
type CircuitBreaker struct {
	mu               sync.Mutex
	adapter          string
	state            BreakerState
	window           time.Duration
	cooldown         time.Duration
	failureThresh    float64
	minSamples       int
	lastTransition   time.Time
	samples          []sample
	halfOpenInFlight bool
}

func NewCircuitBreaker(adapter string, cfg config.CircuitBreaker) *CircuitBreaker {
	return &CircuitBreaker{
		adapter:        adapter,
		state:          Closed,
		window:         cfg.Window,
		cooldown:       cfg.CooldownPeriod,
		failureThresh:  cfg.FailureThreshold,
		minSamples:     cfg.MinSamples,
		lastTransition: time.Now(),
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the cooldown has elapsed and admitting exactly one probe per
// HalfOpen window.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastTransition) >= cb.cooldown {
			cb.setState(HalfOpen)
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()

	cutoff := now.Add(-cb.window)
	filtered := cb.samples[:0]
	for _, s := range cb.samples {
		if s.t.After(cutoff) {
			filtered = append(filtered, s)
		}
	}
	cb.samples = append(filtered, sample{t: now, ok: ok})

	if cb.state == HalfOpen {
		if ok {
			cb.setState(Closed)
		} else {
			cb.setState(Open)
		}
		cb.halfOpenInFlight = false
		return
	}

	total := len(cb.samples)
	if total < cb.minSamples {
		return
	}
	fails := 0
	for _, s := range cb.samples {
		if !s.ok {
			fails++
		}
	}
	rate := float64(fails) / float64(total)
	if cb.state == Closed && rate >= cb.failureThresh {
		cb.setState(Open)
	}
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	cb.lastTransition = time.Now()
}

// Call runs fn if the breaker admits the call, recording the outcome. It
// returns a ServiceUnavailable-kind bunsuierr when the breaker is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return bunsuierr.New(bunsuierr.ServiceUnavailable, cb.adapter, "call", "circuit breaker open")
	}
	err := fn()
	cb.Record(err == nil)
	return err
}
