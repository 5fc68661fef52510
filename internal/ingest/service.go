package ingest

import (
	"context"
	"time"

	"habitat/internal/bus"
	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/logging"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
)

// UnknownAddr stands in for the sender address of uploads that arrive
// without one, such as Kafka events from a trusted producer.
const UnknownAddr = "0.0.0.0"

// Deduplicator is satisfied by deduplication.Service.
type Deduplicator interface {
	IsUnique(ctx context.Context, msg *models.Message) (bool, error)
}

type Result struct {
	Message   *models.Message
	Duplicate bool
}

// Service is the single entry point for external uploads, shared by the
// HTTP gateway and the Kafka consumer.
type Service struct {
	pusher bus.Pusher
	dedup  Deduplicator
	logger logger.Logger
}

// NewService accepts a nil dedup, in which case every upload is pushed.
func NewService(pusher bus.Pusher, dedup Deduplicator, log logger.Logger) *Service {
	return &Service{
		pusher: pusher,
		dedup:  dedup,
		logger: log,
	}
}

// Submit validates event, drops repeats of a recent upload from the same
// receiver and pushes the message onto the bus.
func (s *Service) Submit(ctx context.Context, event models.UploadEvent, remoteAddr string, source string) (*Result, error) {
	if remoteAddr == "" {
		remoteAddr = UnknownAddr
	}

	msg, err := event.ToMessage(remoteAddr)
	if err != nil {
		metrics.IngestionUploadsTotal.WithLabelValues(source, "invalid").Inc()
		return nil, errors.ErrValidation.WithCause(err).AsFatal()
	}

	ctx = logging.WithMessageID(ctx, msg.ID())
	ctx = logging.WithCallsign(ctx, msg.Source().Callsign())

	if s.dedup != nil {
		unique, err := s.dedup.IsUnique(ctx, msg)
		if err != nil {
			metrics.IngestionUploadsTotal.WithLabelValues(source, "error").Inc()
			return nil, err
		}
		if !unique {
			metrics.IngestionUploadsTotal.WithLabelValues(source, "duplicate").Inc()
			s.logger.DebugwCtx(ctx, "Duplicate upload ignored", "type", msg.Kind().String())
			return &Result{Message: msg, Duplicate: true}, nil
		}
	}

	if err := s.pusher.Push(msg); err != nil {
		metrics.IngestionUploadsTotal.WithLabelValues(source, "error").Inc()
		return nil, err
	}

	metrics.IngestionUploadsTotal.WithLabelValues(source, "accepted").Inc()
	s.logger.DebugwCtx(ctx, "Upload accepted",
		"type", msg.Kind().String(),
		"latency_ms", time.Since(msg.UploadedAt()).Milliseconds(),
	)
	return &Result{Message: msg}, nil
}
