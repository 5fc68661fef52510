package flightconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/metrics"
)

const cacheKeyPrefix = constants.CacheKeyPrefixFlightConfig

// CachedStore memoises hits from another store in redis. Lookups are keyed
// by callsign and a time bucket the size of the TTL, so a cached answer is
// never older than one TTL. Misses are not cached: a new flight document
// should take effect immediately. Redis failures fall through to the store.
type CachedStore struct {
	store  Store
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedStore(store Store, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (s *CachedStore) Lookup(ctx context.Context, callsign string, at time.Time) (*Match, error) {
	key := s.key(callsign, at)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var match Match
		if jsonErr := json.Unmarshal(raw, &match); jsonErr == nil {
			metrics.IncFlightConfigLookup("cache", "hit")
			return &match, nil
		}
		s.logger.WarnwCtx(ctx, "Discarding unreadable cached flight configuration", "key", key)
	case err == redis.Nil:
	default:
		metrics.FallbackUsageTotal.WithLabelValues("parser", "flight_store", "redis_error").Inc()
		s.logger.WarnwCtx(ctx, "Flight configuration cache unavailable", "error", err)
	}

	match, err := s.store.Lookup(ctx, callsign, at)
	if err != nil {
		metrics.IncFlightConfigLookup("store", "miss")
		return nil, err
	}
	metrics.IncFlightConfigLookup("store", "hit")

	if b, err := json.Marshal(match); err == nil {
		if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
			s.logger.DebugwCtx(ctx, "Failed to cache flight configuration", "key", key, "error", err)
		}
	}
	return match, nil
}

func (s *CachedStore) key(callsign string, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", cacheKeyPrefix, strings.ToUpper(callsign), at.Truncate(s.ttl).Unix())
}

// Invalidate drops every cached lookup for callsign.
func (s *CachedStore) Invalidate(ctx context.Context, callsign string) error {
	iter := s.client.Scan(ctx, 0, cacheKeyPrefix+strings.ToUpper(callsign)+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	return nil
}
