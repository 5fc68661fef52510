package flightconfig

import (
	"context"
	"time"

	"habitat/internal/config"
	"habitat/pkg/circuitbreaker"
	"habitat/pkg/errors"
)

const breakerName = "mongodb-flights"

// CircuitBreakerStore counts only store failures against the breaker. A
// callsign with no configuration is an ordinary answer.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Breaker
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.New(breakerName, cfg, circuitbreaker.WithAnswers(errors.IsNotFound)),
	}
}

func (s *CircuitBreakerStore) Lookup(ctx context.Context, callsign string, at time.Time) (*Match, error) {
	return circuitbreaker.Do(ctx, s.cb, func() (*Match, error) {
		return s.store.Lookup(ctx, callsign, at)
	})
}

func (s *CircuitBreakerStore) State() string {
	return s.cb.State()
}
