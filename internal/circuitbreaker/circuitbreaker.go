// Package circuitbreaker wraps sony/gobreaker/v2 with the defaults and
// logging hook used throughout this module's REST and WS resilience
// layers, so a persistently failing venue endpoint trips open instead of
// burning the retry-with-backoff loop hot against a dead host.
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/lattice-q/l2book/internal/logger"
)

// Config mirrors the handful of gobreaker.Settings fields this module
// tunes; everything else keeps gobreaker's own defaults.
type Config struct {
	Name                string
	MaxRequestsHalfOpen uint32
	OpenTimeout         time.Duration
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultConfig returns a breaker config tuned for a flaky-network REST
// or WS dependency: open for 30s once at least half of at least 5
// requests have failed. No clearing interval is set, so the counts are
// not reset while the breaker stays closed.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequestsHalfOpen: 1,
		OpenTimeout:         30 * time.Second,
		FailureRatio:        0.5,
		MinRequests:         5,
	}
}

// Breaker wraps a generic gobreaker.CircuitBreaker[T], logging every
// state transition.
type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// New builds a Breaker from cfg, logging state transitions via log.
func New[T any](cfg Config, log logger.Interface) *Breaker[T] {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequestsHalfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
	}
	if log != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			log.Info(context.Background(), "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn through the breaker, short-circuiting with gobreaker's
// own ErrOpenState when tripped.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state.
func (b *Breaker[T]) State() gobreaker.State {
	return b.cb.State()
}
