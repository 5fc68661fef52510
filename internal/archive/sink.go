package archive

import (
	"context"

	"habitat/internal/bus"
	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	pkgerrors "habitat/pkg/errors"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/retry"
)

// Archiver stores every kind of message. Payload telemetry documents are
// shared between receivers, so writes to them are read-merge-write with a
// revision check, retried on conflict.
type Archiver struct {
	repo   Repository
	policy retry.Policy
	logger logger.Logger
}

func NewArchiver(repo Repository, cfg config.ArchiveConfig, log logger.Logger) *Archiver {
	attempts := cfg.MaxConflictRetries
	if attempts <= 0 {
		attempts = constants.DefaultMaxConflictRetries
	}

	return &Archiver{
		repo: repo,
		policy: retry.ConflictPolicy(attempts),
		logger: log,
	}
}

func NewSinkFactory(repo Repository, cfg config.ArchiveConfig, log logger.Logger) bus.SinkFactory {
	return func(_ *bus.Server) (bus.Sink, error) {
		return bus.NewThreadedSink(constants.SinkArchive, NewArchiver(repo, cfg, log), log)
	}
}

func (a *Archiver) Setup(types *bus.TypeSet) error {
	return types.AddTypes(models.AllKinds()...)
}

func (a *Archiver) HandleMessage(ctx context.Context, msg *models.Message) {
	if err := a.Store(ctx, msg); err != nil {
		metrics.IncArchiveWrite(msg.Kind().String(), "error")
		a.logger.ErrorwCtx(ctx, "Failed to archive message", "type", msg.Kind().String(), "error", err)
		return
	}
}

func (a *Archiver) Store(ctx context.Context, msg *models.Message) error {
	switch msg.Kind() {
	case models.KindRawTelemetry:
		return a.storeRawTelemetry(ctx, msg)
	case models.KindParsedTelemetry:
		return a.storeParsedTelemetry(ctx, msg)
	case models.KindListenerInfo:
		return a.storeListenerInfo(ctx, msg)
	case models.KindListenerTelemetry:
		return a.storeListenerTelemetry(ctx, msg)
	default:
		return pkgerrors.ErrValidation.WithDetail("type", msg.Kind().String())
	}
}

func (a *Archiver) storeRawTelemetry(ctx context.Context, msg *models.Message) error {
	raw := msg.RawString()
	return a.savePayloadTelemetry(ctx, msg.Kind(), PayloadTelemetryID(raw), func(doc *PayloadTelemetry) {
		doc.Data[FieldRaw] = raw
		doc.AddReceiver(msg.Source().Callsign(), msg.ReceiverMetadata(), msg.CreatedAt(), msg.UploadedAt())
	})
}

// storeParsedTelemetry merges the parsed fields into the document of the raw
// string they came from. The receiver is only added when the raw copy has
// not been archived yet.
func (a *Archiver) storeParsedTelemetry(ctx context.Context, msg *models.Message) error {
	fields := msg.Data()
	raw, _ := fields[FieldRaw].(string)
	if raw == "" {
		return pkgerrors.ErrValidation.WithDetail("message", "parsed telemetry without "+FieldRaw)
	}

	metadata, _ := fields[FieldListenerMetadata].(map[string]interface{})
	delete(fields, FieldListenerMetadata)

	return a.savePayloadTelemetry(ctx, msg.Kind(), PayloadTelemetryID(raw), func(doc *PayloadTelemetry) {
		doc.MergeData(fields)
		if !doc.HasReceiver(msg.Source().Callsign()) {
			doc.AddReceiver(msg.Source().Callsign(), metadata, msg.CreatedAt(), msg.UploadedAt())
		}
	})
}

func (a *Archiver) savePayloadTelemetry(ctx context.Context, kind models.Kind, id string, merge func(doc *PayloadTelemetry)) error {
	attempt := 0
	err := retry.Retry(ctx, a.policy, func() error {
		attempt++
		if attempt > 1 {
			metrics.ArchiveConflictRetriesTotal.WithLabelValues(kind.String()).Inc()
		}

		doc, err := a.repo.GetPayloadTelemetry(ctx, id)
		switch {
		case pkgerrors.IsNotFound(err):
			doc = NewPayloadTelemetry(id)
			merge(doc)
			err = a.repo.InsertPayloadTelemetry(ctx, doc)
		case err != nil:
			return retry.NewFatalError(err)
		default:
			merge(doc)
			err = a.repo.UpdatePayloadTelemetry(ctx, doc)
		}

		if err != nil && !pkgerrors.IsConflict(err) {
			return retry.NewFatalError(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	metrics.IncArchiveWrite(kind.String(), "saved")
	a.logger.DebugwCtx(ctx, "Archived payload telemetry", "id", id, "attempts", attempt)
	return nil
}

// storeListenerInfo writes only when the information changed since the
// latest stored document for the callsign.
func (a *Archiver) storeListenerInfo(ctx context.Context, msg *models.Message) error {
	doc := newListenerDoc(TypeListenerInfo, msg)

	latest, err := a.repo.LatestListenerInfo(ctx, doc.Callsign)
	if err != nil && !pkgerrors.IsNotFound(err) {
		return err
	}
	if latest != nil && latest.SameData(doc.Data) {
		metrics.IncArchiveWrite(msg.Kind().String(), "unchanged")
		return nil
	}

	if err := a.repo.InsertListenerDoc(ctx, doc); err != nil {
		return err
	}
	metrics.IncArchiveWrite(msg.Kind().String(), "saved")
	return nil
}

func (a *Archiver) storeListenerTelemetry(ctx context.Context, msg *models.Message) error {
	if err := a.repo.InsertListenerDoc(ctx, newListenerDoc(TypeListenerTelemetry, msg)); err != nil {
		return err
	}
	metrics.IncArchiveWrite(msg.Kind().String(), "saved")
	return nil
}
