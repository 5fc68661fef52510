package deduplication

import (
	"context"
	"time"

	"habitat/internal/config"
	"habitat/pkg/circuitbreaker"
)

const breakerName = "redis-dedup"

// CircuitBreakerRepository stops dedup checks from waiting on a redis that
// is known to be down; the service's on_redis_error policy then applies.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{repo: repo, cb: circuitbreaker.New(breakerName, cfg)}
}

func (r *CircuitBreakerRepository) Remember(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (bool, error) {
		return r.repo.Remember(ctx, key, messageID, ttl)
	})
}

func (r *CircuitBreakerRepository) CountKeys(ctx context.Context, prefix string) (int, error) {
	return circuitbreaker.Do(ctx, r.cb, func() (int, error) {
		return r.repo.CountKeys(ctx, prefix)
	})
}

func (r *CircuitBreakerRepository) State() string {
	return r.cb.State()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	return r.cb.IsOpen()
}
