package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"habitat/internal/flightconfig"
	"habitat/internal/protocol"
	"habitat/pkg/errors"
	"habitat/pkg/migrations"
)

func ukhasPayload() flightconfig.PayloadConfig {
	return flightconfig.PayloadConfig{Sentence: protocol.SentenceConfig{Protocol: "UKHAS", Checksum: "crc16-ccitt"}}
}

func TestFlightRepository_Lookup(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureFlightIndexes(ctx, infra.MongoDB))
	require.NoError(t, migrations.EnsureFlightIndexes(ctx, infra.MongoDB))

	repo := flightconfig.NewMongoRepository(infra.MongoDB)
	launch := time.Date(2011, 6, 1, 8, 0, 0, 0, time.UTC)
	start := launch.Add(-time.Hour)

	require.NoError(t, repo.Upsert(ctx, &flightconfig.Document{
		ID:       "long-flight",
		Start:    &start,
		End:      launch.Add(72 * time.Hour),
		Payloads: map[string]flightconfig.PayloadConfig{"habitat": ukhasPayload()},
	}))
	require.NoError(t, repo.Upsert(ctx, &flightconfig.Document{
		ID:       "short-flight",
		Start:    &start,
		End:      launch.Add(24 * time.Hour),
		Payloads: map[string]flightconfig.PayloadConfig{"habitat": ukhasPayload()},
	}))
	require.NoError(t, repo.Upsert(ctx, &flightconfig.Document{
		ID:       "sandbox",
		Type:     flightconfig.TypeSandbox,
		Payloads: map[string]flightconfig.PayloadConfig{"Habitat": ukhasPayload(), "testing": ukhasPayload()},
	}))

	tests := []struct {
		name     string
		callsign string
		at       time.Time
		wantDoc  string
		wantKey  string
		notFound bool
	}{
		{name: "earliest ending flight wins", callsign: "habitat", at: launch, wantDoc: "short-flight", wantKey: "habitat"},
		{name: "case insensitive", callsign: "HABITAT", at: launch, wantDoc: "short-flight", wantKey: "habitat"},
		{name: "after short flight ends", callsign: "habitat", at: launch.Add(48 * time.Hour), wantDoc: "long-flight", wantKey: "habitat"},
		{name: "sandbox after every flight", callsign: "habitat", at: launch.Add(100 * time.Hour), wantDoc: "sandbox", wantKey: "Habitat"},
		{name: "before start falls back to sandbox", callsign: "habitat", at: start.Add(-time.Minute), wantDoc: "sandbox", wantKey: "Habitat"},
		{name: "sandbox only", callsign: "testing", at: launch, wantDoc: "sandbox", wantKey: "testing"},
		{name: "unknown", callsign: "nobody", at: launch, notFound: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := repo.Lookup(ctx, tt.callsign, tt.at)
			if tt.notFound {
				assert.True(t, errors.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDoc, match.DocumentID)
			assert.Equal(t, tt.wantKey, match.Callsign)
			assert.Equal(t, "UKHAS", match.Payload.Sentence.Protocol)
		})
	}

	doc, err := repo.Get(ctx, "sandbox")
	require.NoError(t, err)
	assert.Equal(t, []string{"HABITAT", "TESTING"}, doc.Callsigns)
}

func TestFlightCachedStore(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true, true)
	ctx := context.Background()

	repo := flightconfig.NewMongoRepository(infra.MongoDB)
	store := flightconfig.NewCachedStore(
		flightconfig.NewCircuitBreakerStore(repo, createTestCircuitBreakerConfig()),
		infra.RedisClient, time.Minute, createTestLogger(),
	)

	require.NoError(t, repo.Upsert(ctx, &flightconfig.Document{
		ID:       "sandbox",
		Type:     flightconfig.TypeSandbox,
		Payloads: map[string]flightconfig.PayloadConfig{"habitat": ukhasPayload()},
	}))

	now := time.Now()
	match, err := store.Lookup(ctx, "habitat", now)
	require.NoError(t, err)
	assert.Equal(t, "sandbox", match.DocumentID)

	_, err = infra.MongoDB.Collection(flightconfig.CollectionName).DeleteOne(ctx, bson.M{"_id": "sandbox"})
	require.NoError(t, err)

	cached, err := store.Lookup(ctx, "habitat", now)
	require.NoError(t, err)
	assert.Equal(t, match.DocumentID, cached.DocumentID)
	assert.Equal(t, match.Callsign, cached.Callsign)

	require.NoError(t, store.Invalidate(ctx, "habitat"))
	_, err = store.Lookup(ctx, "habitat", now)
	assert.True(t, errors.IsNotFound(err))
}
