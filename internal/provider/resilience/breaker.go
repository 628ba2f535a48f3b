// Package resilience wraps calls to external providers in a circuit breaker
// with bounded retries and tracks provider health for readiness checks.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig controls when a provider's circuit opens.
type BreakerConfig struct {
	// MinRequests is the number of requests in the current window before the
	// failure ratio is considered (default: 5).
	MinRequests uint32

	// FailureRatio opens the circuit once reached (default: 0.5).
	FailureRatio float64

	// OpenFor is how long the circuit stays open before a trial request (default: 30s).
	OpenFor time.Duration

	// HalfOpenRequests is the number of requests let through while half-open (default: 1).
	HalfOpenRequests uint32

	// Window clears the counts periodically while closed. Zero keeps them
	// until the state changes.
	Window time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// shouldTrip reports whether counts warrant opening the circuit.
func (c BreakerConfig) shouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

// countsAsSuccess keeps callers that gave up from tripping the circuit.
func countsAsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func newBreaker[T any](name string, cfg BreakerConfig, onChange func(name string, from, to gobreaker.State)) *gobreaker.CircuitBreaker[T] {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:          name,
		MaxRequests:   cfg.HalfOpenRequests,
		Interval:      cfg.Window,
		Timeout:       cfg.OpenFor,
		ReadyToTrip:   cfg.shouldTrip,
		IsSuccessful:  countsAsSuccess,
		OnStateChange: onChange,
	})
}
