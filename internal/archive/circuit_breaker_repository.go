package archive

import (
	"context"

	"habitat/internal/config"
	"habitat/pkg/circuitbreaker"
	pkgerrors "habitat/pkg/errors"
)

const breakerName = "postgres-archive"

// CircuitBreakerRepository stops hammering postgres once it is failing.
// NotFound and Conflict are answers, not failures, and never trip it.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.New(breakerName, cfg, circuitbreaker.WithAnswers(pkgerrors.IsNotFound, pkgerrors.IsConflict)),
	}
}

// exec adapts error-only repository calls to circuitbreaker.Do.
func (r *CircuitBreakerRepository) exec(ctx context.Context, fn func() error) error {
	_, err := circuitbreaker.Do(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (r *CircuitBreakerRepository) GetPayloadTelemetry(ctx context.Context, id string) (*PayloadTelemetry, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (*PayloadTelemetry, error) {
		return r.repo.GetPayloadTelemetry(ctx, id)
	})
}

func (r *CircuitBreakerRepository) InsertPayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error {
	return r.exec(ctx, func() error { return r.repo.InsertPayloadTelemetry(ctx, doc) })
}

func (r *CircuitBreakerRepository) UpdatePayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error {
	return r.exec(ctx, func() error { return r.repo.UpdatePayloadTelemetry(ctx, doc) })
}

func (r *CircuitBreakerRepository) LatestListenerInfo(ctx context.Context, callsign string) (*ListenerDoc, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (*ListenerDoc, error) {
		return r.repo.LatestListenerInfo(ctx, callsign)
	})
}

func (r *CircuitBreakerRepository) InsertListenerDoc(ctx context.Context, doc *ListenerDoc) error {
	return r.exec(ctx, func() error { return r.repo.InsertListenerDoc(ctx, doc) })
}

func (r *CircuitBreakerRepository) State() string {
	return r.cb.State()
}
