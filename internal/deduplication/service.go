package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/tracing"
)

// Service remembers recent uploads per receiver so that a client retrying
// an upload does not inject the same message into the bus twice.
type Service struct {
	repo   Repository
	hasher *Hasher
	cfg    config.IngestionConfig
	ttl    time.Duration
	logger logger.Logger
}

func NewService(repo Repository, cfg config.IngestionConfig, log logger.Logger) *Service {
	ttl := time.Duration(cfg.DedupTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = constants.DefaultTTLSeconds * time.Second
	}

	return &Service{
		repo:   repo,
		hasher: NewHasher(strings.ToLower(cfg.HashAlgorithm)),
		cfg:    cfg,
		ttl:    ttl,
		logger: log,
	}
}

// Key is the redis key an upload is remembered under.
func Key(callsign, hash string) string {
	return constants.CacheKeyPrefixUpload + callsign + ":" + hash
}

// IsUnique reports whether msg has not been seen from its sender within the
// TTL, and remembers it.
func (s *Service) IsUnique(ctx context.Context, msg *models.Message) (bool, error) {
	ctx, span := tracing.StartMessageSpan(ctx, "ingestion", "deduplication.check", msg)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	hash, err := s.hasher.ComputeHash(msg)
	if err != nil {
		return false, fmt.Errorf("failed to compute hash for message %s: %w", msg.ID(), err)
	}

	start := time.Now()
	unique, err := s.repo.Remember(ctx, Key(msg.Source().Callsign(), hash), msg.ID(), s.ttl)
	duration := time.Since(start)

	if err != nil {
		return s.handleRedisError(ctx, err, duration, msg.ID())
	}

	s.recordMetrics(duration, unique)
	return unique, nil
}

func (s *Service) CacheSize(ctx context.Context) (int, error) {
	return s.repo.CountKeys(ctx, constants.CacheKeyPrefixUpload)
}

func (s *Service) handleRedisError(ctx context.Context, err error, duration time.Duration, msgID string) (bool, error) {
	s.recordMetricsWithStatus(duration, "error")

	switch strings.ToLower(s.cfg.OnRedisError) {
	case constants.FallbackReject:
		metrics.FallbackUsageTotal.WithLabelValues("ingestion", "reject_on_error", "redis_error").Inc()
		s.logger.WarnwCtx(ctx, "Redis error during dedup check, dropping upload (fallback: reject)", "error", err)
		return false, nil
	case constants.FallbackError:
		metrics.FallbackUsageTotal.WithLabelValues("ingestion", "fail_on_error", "redis_error").Inc()
		return false, errors.ErrServiceUnavailable.WithCause(fmt.Errorf("redis error during dedup check for message %s: %w", msgID, err))
	default:
		metrics.FallbackUsageTotal.WithLabelValues("ingestion", "allow_on_error", "redis_error").Inc()
		s.logger.WarnwCtx(ctx, "Redis error during dedup check, allowing upload (fallback: allow)", "error", err)
		return true, nil
	}
}

func (s *Service) recordMetrics(duration time.Duration, isUnique bool) {
	status := "duplicate"
	if isUnique {
		status = "unique"
	}
	s.recordMetricsWithStatus(duration, status)
}

func (s *Service) recordMetricsWithStatus(duration time.Duration, status string) {
	metrics.DeduplicateMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveDedupDuration(duration, status)
}
