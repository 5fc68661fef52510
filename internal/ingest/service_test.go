package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/models"
)

type capturePusher struct {
	mu   sync.Mutex
	msgs []*models.Message
	err  error
}

func (p *capturePusher) Push(msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

type seenDedup struct {
	seen map[string]bool
	err  error
}

func (d *seenDedup) IsUnique(_ context.Context, msg *models.Message) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	key := msg.Source().Callsign() + msg.RawString()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func rawUpload() models.UploadEvent {
	return models.UploadEvent{
		Callsign: "M0RND",
		Type:     "RECEIVED_TELEM",
		Data:     map[string]interface{}{"string": "dGVzdA=="},
	}
}

func TestSubmit(t *testing.T) {
	pusher := &capturePusher{}
	svc := NewService(pusher, &seenDedup{seen: map[string]bool{}}, logger.NopLogger())
	ctx := context.Background()

	res, err := svc.Submit(ctx, rawUpload(), "192.0.2.1", "http")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.Len(t, pusher.msgs, 1)
	assert.Equal(t, "192.0.2.1", pusher.msgs[0].Source().Addr().String())

	res, err = svc.Submit(ctx, rawUpload(), "192.0.2.1", "http")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, pusher.msgs, 1)
}

func TestSubmitWithoutAddress(t *testing.T) {
	pusher := &capturePusher{}
	svc := NewService(pusher, nil, logger.NopLogger())

	_, err := svc.Submit(context.Background(), rawUpload(), "", "kafka")
	require.NoError(t, err)
	require.Len(t, pusher.msgs, 1)
	assert.Equal(t, UnknownAddr, pusher.msgs[0].Source().Addr().String())
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name   string
		event  models.UploadEvent
		pusher *capturePusher
		dedup  Deduplicator
		check  func(error) bool
	}{
		{
			name:   "parsed telemetry forbidden",
			event:  models.UploadEvent{Callsign: "M0RND", Type: "TELEM", Data: map[string]interface{}{}},
			pusher: &capturePusher{},
			check:  errors.IsValidation,
		},
		{
			name:   "bad callsign",
			event:  models.UploadEvent{Callsign: "M0-RND", Type: "LISTENER_INFO", Data: map[string]interface{}{}},
			pusher: &capturePusher{},
			check:  errors.IsValidation,
		},
		{
			name:   "bus stopped",
			event:  rawUpload(),
			pusher: &capturePusher{err: errors.ErrServiceUnavailable},
			check:  errors.IsServiceUnavailable,
		},
		{
			name:   "dedup failure",
			event:  rawUpload(),
			pusher: &capturePusher{},
			dedup:  &seenDedup{err: errors.ErrServiceUnavailable.WithCause(fmt.Errorf("redis down"))},
			check:  errors.IsServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.pusher, tt.dedup, logger.NopLogger())
			_, err := svc.Submit(context.Background(), tt.event, "127.0.0.1", "http")
			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Empty(t, tt.pusher.msgs)
		})
	}
}

func TestSubmitValidationIsNotRetryable(t *testing.T) {
	svc := NewService(&capturePusher{}, nil, logger.NopLogger())
	_, err := svc.Submit(context.Background(), models.UploadEvent{}, "127.0.0.1", "kafka")

	var appErr *errors.Error
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.IsFatal())
}

func TestSubmitUsesRemoteAddressOverEventIP(t *testing.T) {
	pusher := &capturePusher{}
	svc := NewService(pusher, nil, logger.NopLogger())

	event := rawUpload()
	event.IP = "8.8.8.8"
	res, err := svc.Submit(context.Background(), event, "203.0.113.7", "http")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", res.Message.Source().Addr().String())
}
