package archive

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/config"
	"habitat/internal/logger"
	pkgerrors "habitat/pkg/errors"
	"habitat/pkg/models"
)

type memoryRepository struct {
	mu        sync.Mutex
	payloads  map[string]*PayloadTelemetry
	listeners []*ListenerDoc

	// conflicts makes the next n payload writes fail as if another writer
	// got there first.
	conflicts int
	writes    int
	failWith  error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{payloads: make(map[string]*PayloadTelemetry)}
}

func clonePayload(doc *PayloadTelemetry) *PayloadTelemetry {
	out := NewPayloadTelemetry(doc.ID)
	out.Revision = doc.Revision
	out.Data = models.CopyMap(doc.Data)
	for k, v := range doc.Receivers {
		out.Receivers[k] = models.CopyMap(v)
	}
	return out
}

func (r *memoryRepository) GetPayloadTelemetry(_ context.Context, id string) (*PayloadTelemetry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	doc, ok := r.payloads[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return clonePayload(doc), nil
}

func (r *memoryRepository) conflict() bool {
	r.writes++
	if r.conflicts > 0 {
		r.conflicts--
		return true
	}
	return false
}

func (r *memoryRepository) InsertPayloadTelemetry(_ context.Context, doc *PayloadTelemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflict() {
		return pkgerrors.ErrConflict
	}
	if _, ok := r.payloads[doc.ID]; ok {
		return pkgerrors.ErrConflict
	}
	doc.Revision = 1
	r.payloads[doc.ID] = clonePayload(doc)
	return nil
}

func (r *memoryRepository) UpdatePayloadTelemetry(_ context.Context, doc *PayloadTelemetry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflict() {
		return pkgerrors.ErrConflict
	}
	stored, ok := r.payloads[doc.ID]
	if !ok || stored.Revision != doc.Revision {
		return pkgerrors.ErrConflict
	}
	doc.Revision++
	r.payloads[doc.ID] = clonePayload(doc)
	return nil
}

func (r *memoryRepository) LatestListenerInfo(_ context.Context, callsign string) (*ListenerDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.listeners) - 1; i >= 0; i-- {
		if d := r.listeners[i]; d.Type == TypeListenerInfo && d.Callsign == callsign {
			return d, nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (r *memoryRepository) InsertListenerDoc(_ context.Context, doc *ListenerDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, doc)
	return nil
}

func (r *memoryRepository) count(docType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.listeners {
		if d.Type == docType {
			n++
		}
	}
	return n
}

func newTestArchiver(repo Repository, retries int) *Archiver {
	return NewArchiver(repo, config.ArchiveConfig{MaxConflictRetries: retries}, logger.NopLogger())
}

func rawMessage(t *testing.T, callsign, raw string, meta map[string]interface{}) *models.Message {
	t.Helper()
	data := map[string]interface{}{"string": raw}
	for k, v := range meta {
		data[k] = v
	}
	msg, err := models.NewMessage(models.MustListener(callsign, "127.0.0.1"), models.KindRawTelemetry, data)
	require.NoError(t, err)
	return msg
}

const sentence = "JCRoYWJpdGF0LDEsMDA6MDA6MDAsMC4wLDAuMCwwLDAuMCxoYWI="

func TestPayloadTelemetryID(t *testing.T) {
	// sha256("dGVzdA==")
	assert.Equal(t, "2b200a668f372eb923099cbdb250d0aa340de0163088de1e23482b1a4c50ae9b", PayloadTelemetryID("dGVzdA=="))
}

func TestArchiveRawTelemetryMergesReceivers(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 0)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, rawMessage(t, "M0RND", sentence, map[string]interface{}{"frequency": 434.075})))
	require.NoError(t, a.Store(ctx, rawMessage(t, "2E0JSO", sentence, nil)))

	doc, err := repo.GetPayloadTelemetry(ctx, PayloadTelemetryID(sentence))
	require.NoError(t, err)
	assert.Equal(t, sentence, doc.Data[FieldRaw])
	assert.Equal(t, 2, doc.Revision)
	require.Len(t, doc.Receivers, 2)
	assert.Equal(t, 434.075, doc.Receivers["M0RND"]["frequency"])
	assert.Contains(t, doc.Receivers["2E0JSO"], "time_created")
	assert.Contains(t, doc.Receivers["2E0JSO"], "time_uploaded")
}

func TestArchiveParsedTelemetry(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 0)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, rawMessage(t, "M0RND", sentence, nil)))

	parsed, err := models.NewMessage(models.MustListener("M0RND", "127.0.0.1"), models.KindParsedTelemetry, map[string]interface{}{
		"_raw":               sentence,
		"_protocol":          "UKHAS",
		"_parsed":            true,
		"altitude":           1000,
		"_listener_metadata": map[string]interface{}{"frequency": 434.075},
	})
	require.NoError(t, err)
	require.NoError(t, a.Store(ctx, parsed))

	doc, err := repo.GetPayloadTelemetry(ctx, PayloadTelemetryID(sentence))
	require.NoError(t, err)
	assert.Equal(t, "UKHAS", doc.Data["_protocol"])
	assert.Equal(t, 1000, doc.Data["altitude"])
	assert.Equal(t, sentence, doc.Data[FieldRaw])
	assert.NotContains(t, doc.Data, FieldListenerMetadata)
	// the raw copy already recorded the receiver
	assert.NotContains(t, doc.Receivers["M0RND"], "frequency")
}

func TestArchiveParsedTelemetryBeforeRaw(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 0)
	ctx := context.Background()

	parsed, err := models.NewMessage(models.MustListener("M0RND", "127.0.0.1"), models.KindParsedTelemetry, map[string]interface{}{
		"_raw":               sentence,
		"_listener_metadata": map[string]interface{}{"frequency": 434.075},
	})
	require.NoError(t, err)
	require.NoError(t, a.Store(ctx, parsed))

	doc, err := repo.GetPayloadTelemetry(ctx, PayloadTelemetryID(sentence))
	require.NoError(t, err)
	assert.Equal(t, 434.075, doc.Receivers["M0RND"]["frequency"])

	noRaw, err := models.NewMessage(models.MustListener("M0RND", "127.0.0.1"), models.KindParsedTelemetry, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.True(t, pkgerrors.IsValidation(a.Store(ctx, noRaw)))
}

func TestArchiveConflictRetry(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		retries   int
		wantErr   bool
	}{
		{name: "no conflict", conflicts: 0, retries: 3},
		{name: "recovers", conflicts: 2, retries: 3},
		{name: "gives up", conflicts: 3, retries: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepository()
			repo.conflicts = tt.conflicts
			a := newTestArchiver(repo, tt.retries)

			err := a.Store(context.Background(), rawMessage(t, "M0RND", sentence, nil))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsConflict(err))
				assert.Equal(t, tt.retries, repo.writes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.conflicts+1, repo.writes)
		})
	}
}

func TestArchiveStoreErrorIsNotRetried(t *testing.T) {
	repo := newMemoryRepository()
	repo.failWith = fmt.Errorf("connection refused")
	a := newTestArchiver(repo, 5)

	err := a.Store(context.Background(), rawMessage(t, "M0RND", sentence, nil))
	require.Error(t, err)
	assert.Equal(t, 0, repo.writes)
}

func TestArchiveConcurrentReceivers(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 30)

	callsigns := []string{"M0RND", "2E0JSO", "M0ZDR", "G4FRE", "M0ZDR_CHASE"}
	var wg sync.WaitGroup
	for _, c := range callsigns {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			assert.NoError(t, a.Store(context.Background(), rawMessage(t, c, sentence, nil)))
		}(c)
	}
	wg.Wait()

	doc, err := repo.GetPayloadTelemetry(context.Background(), PayloadTelemetryID(sentence))
	require.NoError(t, err)
	assert.Len(t, doc.Receivers, len(callsigns))
}

func TestArchiveListenerInfoOnlyWhenChanged(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 0)
	ctx := context.Background()
	source := models.MustListener("M0RND", "127.0.0.1")

	info := func(data map[string]interface{}) *models.Message {
		msg, err := models.NewMessage(source, models.KindListenerInfo, data)
		require.NoError(t, err)
		return msg
	}

	require.NoError(t, a.Store(ctx, info(map[string]interface{}{"name": "Adam", "radio": "FT-817"})))
	require.NoError(t, a.Store(ctx, info(map[string]interface{}{"name": "Adam", "radio": "FT-817"})))
	assert.Equal(t, 1, repo.count(TypeListenerInfo))

	require.NoError(t, a.Store(ctx, info(map[string]interface{}{"name": "Adam", "radio": "FT-790"})))
	assert.Equal(t, 2, repo.count(TypeListenerInfo))

	latest, err := repo.LatestListenerInfo(ctx, "M0RND")
	require.NoError(t, err)
	assert.Equal(t, "M0RND", latest.Data["callsign"])
	assert.Equal(t, "FT-790", latest.Data["radio"])
}

func TestArchiveListenerTelemetryAlwaysSaved(t *testing.T) {
	repo := newMemoryRepository()
	a := newTestArchiver(repo, 0)
	source := models.MustListener("M0RND", "127.0.0.1")

	for i := 0; i < 2; i++ {
		msg, err := models.NewMessage(source, models.KindListenerTelemetry, map[string]interface{}{"latitude": 52.0})
		require.NoError(t, err)
		require.NoError(t, a.Store(context.Background(), msg))
	}
	assert.Equal(t, 2, repo.count(TypeListenerTelemetry))
}

func TestListenerDocSameDataNormalisesNumbers(t *testing.T) {
	doc := &ListenerDoc{Data: map[string]interface{}{"altitude": float64(12)}}
	assert.True(t, doc.SameData(map[string]interface{}{"altitude": 12}))
	assert.False(t, doc.SameData(map[string]interface{}{"altitude": 13}))
}

func TestArchiveSinkSubscribesToEverything(t *testing.T) {
	sink, err := NewSinkFactory(newMemoryRepository(), config.ArchiveConfig{}, logger.NopLogger())(nil)
	require.NoError(t, err)
	defer sink.Shutdown()

	for _, k := range models.AllKinds() {
		assert.True(t, sink.Accepts(k))
	}
}

func TestCircuitBreakerRepositoryIgnoresAnswers(t *testing.T) {
	repo := newMemoryRepository()
	cb := NewCircuitBreakerRepository(repo, config.CircuitBreakerConfig{
		Enabled:      true,
		MinRequests:  2,
		FailureRatio: 0.5,
		Timeout:      time.Minute,
	})

	for i := 0; i < 5; i++ {
		_, err := cb.GetPayloadTelemetry(context.Background(), "missing")
		assert.True(t, pkgerrors.IsNotFound(err))
	}
	assert.Equal(t, "closed", cb.State())

	// answers count as successes, so five failures are needed to reach half
	repo.failWith = fmt.Errorf("connection refused")
	for i := 0; i < 5; i++ {
		_, err := cb.GetPayloadTelemetry(context.Background(), "missing")
		assert.Error(t, err)
	}
	assert.Equal(t, "open", cb.State())

	assert.Equal(t, "disabled", NewCircuitBreakerRepository(repo, config.CircuitBreakerConfig{}).State())
}
