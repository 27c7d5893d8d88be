package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dan-solli/kgstore/pkg/store"
)

// BreakerConfig configures the circuit breaker guarding database search.
type BreakerConfig struct {
	Enabled bool

	// MaxRequests allowed through while half-open (default: 1).
	MaxRequests uint32

	// Interval clears failure counts while closed; 0 never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing (default: 30s).
	Timeout time.Duration

	// MinRequests is the number of requests before the failure ratio is considered (default: 3).
	MinRequests uint32

	// FailureRatio trips the breaker once reached (default: 0.6).
	FailureRatio float64
}

// Breaker wraps a gobreaker.CircuitBreaker. A nil *Breaker passes every call through.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker returns a breaker, or nil when cfg.Enabled is false.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 3
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.6
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// Cancellation by the caller says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("search circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() ([]store.Entity, error)) ([]store.Entity, error) {
	if b == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	entities, _ := res.([]store.Entity)
	return entities, nil
}

// executePage runs a paginated call through the breaker.
func (b *Breaker) executePage(fn func() ([]store.Entity, int, error)) ([]store.Entity, int, error) {
	var total int
	entities, err := b.Execute(func() ([]store.Entity, error) {
		e, n, err := fn()
		total = n
		return e, err
	})
	return entities, total, err
}

// State returns "closed", "half-open" or "open"; "disabled" for a nil breaker.
func (b *Breaker) State() string {
	if b == nil {
		return "disabled"
	}
	return b.cb.State().String()
}

// isBreakerRejection reports whether err came from the breaker rather than the backend.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
