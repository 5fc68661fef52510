package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"habitat/internal/config"
	pkgerrors "habitat/pkg/errors"
	"habitat/pkg/metrics"
)

const (
	defaultMaxRequests  = 3
	defaultInterval     = 60 * time.Second
	defaultTimeout      = 60 * time.Second
	defaultMinRequests  = 3
	defaultFailureRatio = 0.5

	StateDisabled = "disabled"
)

// Breaker guards calls to one backend. A nil *Breaker is a disabled one and
// passes every call straight through.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	isAnswer func(error) bool
}

type Option func(*Breaker)

// WithAnswers names errors a healthy backend replies with, such as "not
// found". They are returned to the caller but never count as failures.
func WithAnswers(predicates ...func(error) bool) Option {
	return func(b *Breaker) {
		b.isAnswer = func(err error) bool {
			for _, p := range predicates {
				if p(err) {
					return true
				}
			}
			return false
		}
	}
}

// New returns nil when cfg is disabled. Zero fields fall back to a breaker
// that trips once half of at least three requests failed.
func New(name string, cfg config.CircuitBreakerConfig, opts ...Option) *Breaker {
	if !cfg.Enabled {
		return nil
	}

	b := &Breaker{isAnswer: func(error) bool { return false }}
	for _, opt := range opts {
		opt(b)
	}

	minRequests, ratio := uint32(defaultMinRequests), defaultFailureRatio
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		minRequests, ratio = cfg.MinRequests, cfg.FailureRatio
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: orDefault(cfg.MaxRequests, defaultMaxRequests),
		Interval:    orDefault(cfg.Interval, defaultInterval),
		Timeout:     orDefault(cfg.Timeout, defaultTimeout),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || b.isAnswer(err)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			setStateMetric(name, to)
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	setStateMetric(name, b.cb.State())
	return b
}

func orDefault[T uint32 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// Do runs fn through b. Calls refused by an open breaker fail with
// ErrServiceUnavailable.
func Do[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if b == nil {
		return fn()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	b.record(err)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, pkgerrors.ErrServiceUnavailable.
			WithDetail("message", "circuit breaker is open for "+b.cb.Name()).
			WithCause(err)
	}

	v, _ := result.(T)
	return v, err
}

func (b *Breaker) record(err error) {
	name := b.cb.Name()
	metrics.CircuitBreakerRequests.WithLabelValues(name, b.cb.State().String()).Inc()
	if err != nil && !b.isAnswer(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
	}
}

func (b *Breaker) State() string {
	if b == nil {
		return StateDisabled
	}
	return b.cb.State().String()
}

func (b *Breaker) IsOpen() bool {
	return b != nil && b.cb.State() == gobreaker.StateOpen
}

func setStateMetric(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
