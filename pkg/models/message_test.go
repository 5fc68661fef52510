package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewListener(t *testing.T) {
	tests := []struct {
		name     string
		callsign string
		ip       string
		want     string
		wantErr  bool
	}{
		{name: "maritime mobile", callsign: "M0ZDR/MM", ip: "127.0.0.1", want: "M0ZDR/MM"},
		{name: "underscore only", callsign: "_", ip: "127.0.0.1", want: "_"},
		{name: "slash only", callsign: "/", ip: "127.0.0.1", want: "/"},
		{name: "lowercase normalised", callsign: "M0rnd_Chase", ip: "::1", want: "M0RND_CHASE"},
		{name: "empty", callsign: "", ip: "127.0.0.1", wantErr: true},
		{name: "hash", callsign: "#", ip: "127.0.0.1", wantErr: true},
		{name: "dash", callsign: "M-", ip: "127.0.0.1", wantErr: true},
		{name: "at sign", callsign: "M0@ND", ip: "127.0.0.1", wantErr: true},
		{name: "plus", callsign: "+", ip: "127.0.0.1", wantErr: true},
		{name: "tilde", callsign: "~", ip: "127.0.0.1", wantErr: true},
		{name: "bad ip", callsign: "M0RND", ip: "1234.1.1.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewListener(tt.callsign, tt.ip)
			if tt.wantErr {
				var vErr *ValidationError
				require.Error(t, err)
				assert.True(t, errors.As(err, &vErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, l.Callsign())
		})
	}
}

func TestListenerEqualityUsesCallsignOnly(t *testing.T) {
	a := MustListener("M0RND", "127.0.0.1")
	b := MustListener("m0rnd", "10.0.0.1")
	c := MustListener("2E0JSO", "127.0.0.1")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestParseKind(t *testing.T) {
	for _, k := range AllKinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("NOPE")
	assert.Error(t, err)
	assert.Error(t, ValidateKind(Kind(17)))
}

func TestRawTelemetryValidation(t *testing.T) {
	source := MustListener("M0RND", "127.0.0.1")

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{name: "valid", data: map[string]interface{}{"string": "dGVzdA=="}},
		{name: "valid with frequency", data: map[string]interface{}{"string": "dGVzdA==", "frequency": 434.075}},
		{name: "integer frequency", data: map[string]interface{}{"string": "dGVzdA==", "frequency": 434}},
		{name: "missing string", data: map[string]interface{}{}, wantErr: true},
		{name: "not base64", data: map[string]interface{}{"string": "!!!"}, wantErr: true},
		{name: "string wrong type", data: map[string]interface{}{"string": 12}, wantErr: true},
		{name: "negative frequency", data: map[string]interface{}{"string": "dGVzdA==", "frequency": -1.0}, wantErr: true},
		{name: "frequency wrong type", data: map[string]interface{}{"string": "dGVzdA==", "frequency": "434"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(source, KindRawTelemetry, tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			raw, err := msg.RawBytes()
			require.NoError(t, err)
			assert.Equal(t, "test", string(raw))
		})
	}
}

func TestMessageRequiresData(t *testing.T) {
	_, err := NewMessage(MustListener("M0RND", "127.0.0.1"), KindListenerInfo, nil)
	assert.Error(t, err)

	_, err = NewMessageBuilder(KindListenerInfo).Build()
	assert.Error(t, err)

	_, err = NewMessage(MustListener("M0RND", "127.0.0.1"), Kind(9), map[string]interface{}{})
	assert.Error(t, err)
}

func TestMessageIsImmutable(t *testing.T) {
	data := map[string]interface{}{
		"string":  "dGVzdA==",
		"nested":  map[string]interface{}{"a": 1},
		"antenna": []interface{}{"yagi"},
	}
	msg, err := NewMessage(MustListener("M0RND", "127.0.0.1"), KindRawTelemetry, data)
	require.NoError(t, err)

	data["string"] = "changed"
	data["nested"].(map[string]interface{})["a"] = 2

	out := msg.Data()
	out["antenna"].([]interface{})[0] = "dipole"

	assert.Equal(t, "dGVzdA==", msg.RawString())
	nested, _ := msg.Field("nested")
	assert.Equal(t, 1, nested.(map[string]interface{})["a"])
	antenna, _ := msg.Field("antenna")
	assert.Equal(t, "yagi", antenna.([]interface{})[0])
}

func TestReceiverMetadata(t *testing.T) {
	msg, err := NewMessage(MustListener("M0RND", "127.0.0.1"), KindRawTelemetry, map[string]interface{}{
		"string":       "dGVzdA==",
		"metametadata": "asdf",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"metametadata": "asdf"}, msg.ReceiverMetadata())
}

func TestBuilderTimes(t *testing.T) {
	created := time.Date(2011, 3, 4, 12, 0, 0, 0, time.UTC)
	msg, err := NewMessageBuilder(KindListenerTelemetry).
		WithSource(MustListener("M0RND", "127.0.0.1")).
		WithCreatedAt(created).
		WithData(map[string]interface{}{"latitude": 52.0}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, created, msg.CreatedAt())
	assert.False(t, msg.UploadedAt().IsZero())
	assert.NotEmpty(t, msg.ID())
}

func TestUploadEventToMessage(t *testing.T) {
	t.Run("raw telemetry", func(t *testing.T) {
		msg, err := UploadEvent{
			Callsign: "m0rnd",
			Type:     "RECEIVED_TELEM",
			Data:     map[string]interface{}{"string": "dGVzdA=="},
		}.ToMessage("192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, KindRawTelemetry, msg.Kind())
		assert.Equal(t, "M0RND", msg.Source().Callsign())
		assert.Equal(t, "192.0.2.1", msg.Source().Addr().String())
	})

	t.Run("event ip ignored", func(t *testing.T) {
		msg, err := UploadEvent{
			Callsign: "M0RND",
			Type:     "LISTENER_INFO",
			Data:     map[string]interface{}{"name": "Adam"},
			IP:       "8.8.8.8",
		}.ToMessage("192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.1", msg.Source().Addr().String())
	})

	t.Run("parsed telemetry forbidden", func(t *testing.T) {
		_, err := UploadEvent{
			Callsign: "M0RND",
			Type:     "TELEM",
			Data:     map[string]interface{}{},
		}.ToMessage("192.0.2.1")
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "type", vErr.Field)
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, err := UploadEvent{Callsign: "M0RND"}.ToMessage("192.0.2.1")
		assert.Error(t, err)
	})
}

func TestMessageJSON(t *testing.T) {
	msg, err := NewMessage(MustListener("M0RND", "127.0.0.1"), KindListenerInfo, map[string]interface{}{"name": "Adam"})
	require.NoError(t, err)

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "LISTENER_INFO", out["type"])
	assert.Equal(t, "M0RND", out["callsign"])
	assert.Equal(t, "127.0.0.1", out["ip"])
}
