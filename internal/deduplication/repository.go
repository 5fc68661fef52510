package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint for SCAN while sizing the cache.
const scanBatch = 500

type Repository interface {
	// Remember stores key with the id of the message that first produced
	// it. It reports false when the key is already held.
	Remember(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error)
	CountKeys(ctx context.Context, prefix string) (int, error)
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Remember(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error) {
	stored, err := r.client.SetNX(ctx, key, messageID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s failed: %w", key, err)
	}
	return stored, nil
}

func (r *RedisRepository) CountKeys(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	count := 0
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}
