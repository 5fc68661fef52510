package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	pkgerrors "habitat/pkg/errors"
	"habitat/pkg/metrics"
)

type Repository interface {
	GetPayloadTelemetry(ctx context.Context, id string) (*PayloadTelemetry, error)

	// InsertPayloadTelemetry fails with ErrConflict when id already exists.
	InsertPayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error

	// UpdatePayloadTelemetry fails with ErrConflict when doc.Revision is no
	// longer the stored revision. On success doc.Revision is advanced.
	UpdatePayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error

	LatestListenerInfo(ctx context.Context, callsign string) (*ListenerDoc, error)
	InsertListenerDoc(ctx context.Context, doc *ListenerDoc) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetPayloadTelemetry(ctx context.Context, id string) (*PayloadTelemetry, error) {
	start := time.Now()
	query := `
		SELECT id, revision, data, receivers, created_at, updated_at
		FROM payload_telemetry
		WHERE id = $1
	`

	var (
		doc                   PayloadTelemetry
		rawData, rawReceivers []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Revision, &rawData, &rawReceivers, &doc.CreatedAt, &doc.UpdatedAt,
	)
	observe("get_payload_telemetry", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payload telemetry: %w", err)
	}

	if err := json.Unmarshal(rawData, &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to decode payload telemetry data: %w", err)
	}
	if err := json.Unmarshal(rawReceivers, &doc.Receivers); err != nil {
		return nil, fmt.Errorf("failed to decode payload telemetry receivers: %w", err)
	}
	if doc.Data == nil {
		doc.Data = make(map[string]interface{})
	}
	if doc.Receivers == nil {
		doc.Receivers = make(map[string]map[string]interface{})
	}

	return &doc, nil
}

func (r *PostgresRepository) InsertPayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error {
	start := time.Now()
	data, receivers, err := encodePayloadTelemetry(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO payload_telemetry (id, revision, data, receivers, created_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, $4)
	`
	_, err = r.db.ExecContext(ctx, query, doc.ID, data, receivers, now)
	observe("insert_payload_telemetry", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("id", doc.ID)
		}
		return fmt.Errorf("failed to insert payload telemetry: %w", err)
	}

	doc.Revision = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) UpdatePayloadTelemetry(ctx context.Context, doc *PayloadTelemetry) error {
	start := time.Now()
	data, receivers, err := encodePayloadTelemetry(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		UPDATE payload_telemetry
		SET revision = revision + 1, data = $3, receivers = $4, updated_at = $5
		WHERE id = $1 AND revision = $2
	`
	result, err := r.db.ExecContext(ctx, query, doc.ID, doc.Revision, data, receivers, now)
	observe("update_payload_telemetry", start, err)
	if err != nil {
		return fmt.Errorf("failed to update payload telemetry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return pkgerrors.ErrConflict.WithDetail("id", doc.ID).WithDetail("revision", doc.Revision)
	}

	doc.Revision++
	doc.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) LatestListenerInfo(ctx context.Context, callsign string) (*ListenerDoc, error) {
	start := time.Now()
	query := `
		SELECT id, callsign, data, time_created, time_uploaded
		FROM listener_info
		WHERE callsign = $1
		ORDER BY time_created DESC, time_uploaded DESC
		LIMIT 1
	`

	doc := ListenerDoc{Type: TypeListenerInfo}
	var rawData []byte
	err := r.db.QueryRowContext(ctx, query, callsign).Scan(
		&doc.ID, &doc.Callsign, &rawData, &doc.TimeCreated, &doc.TimeUploaded,
	)
	observe("latest_listener_info", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("callsign", callsign)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listener info: %w", err)
	}

	if err := json.Unmarshal(rawData, &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to decode listener info: %w", err)
	}
	return &doc, nil
}

func (r *PostgresRepository) InsertListenerDoc(ctx context.Context, doc *ListenerDoc) error {
	var table string
	switch doc.Type {
	case TypeListenerInfo:
		table = "listener_info"
	case TypeListenerTelemetry:
		table = "listener_telemetry"
	default:
		return pkgerrors.ErrValidation.WithDetail("type", doc.Type)
	}

	start := time.Now()
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("failed to encode listener data: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, callsign, data, time_created, time_uploaded)
		VALUES ($1, $2, $3, $4, $5)
	`, pq.QuoteIdentifier(table))
	_, err = r.db.ExecContext(ctx, query, doc.ID, doc.Callsign, data, doc.TimeCreated.UTC(), doc.TimeUploaded.UTC())
	observe("insert_"+doc.Type, start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("id", doc.ID)
		}
		return fmt.Errorf("failed to insert %s: %w", doc.Type, err)
	}
	return nil
}

func encodePayloadTelemetry(doc *PayloadTelemetry) ([]byte, []byte, error) {
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payload telemetry data: %w", err)
	}
	receivers, err := json.Marshal(doc.Receivers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payload telemetry receivers: %w", err)
	}
	return data, receivers, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery("archive", "postgresql", operation, status)
	metrics.ObserveDatabaseQueryDuration("archive", "postgresql", operation, time.Since(start))
}

// normalize gives a map the shape it would have after being stored, so that
// int and float64 values compare equal.
func normalize(in map[string]interface{}) map[string]interface{} {
	b, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return in
	}
	return out
}
