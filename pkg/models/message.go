package models

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const (
	FieldRawString = "string"
	FieldFrequency = "frequency"
)

// Message is immutable once built. Accessors hand out copies of the payload
// so a sink cannot change what other sinks observe.
type Message struct {
	id         string
	kind       Kind
	source     Listener
	createdAt  time.Time
	uploadedAt time.Time
	data       map[string]interface{}
}

func NewMessage(source Listener, kind Kind, data map[string]interface{}) (*Message, error) {
	return NewMessageBuilder(kind).
		WithSource(source).
		WithData(data).
		Build()
}

func (m *Message) ID() string {
	return m.id
}

func (m *Message) Kind() Kind {
	return m.kind
}

func (m *Message) Source() Listener {
	return m.source
}

func (m *Message) CreatedAt() time.Time {
	return m.createdAt
}

func (m *Message) UploadedAt() time.Time {
	return m.uploadedAt
}

func (m *Message) Data() map[string]interface{} {
	return CopyMap(m.data)
}

func (m *Message) Field(name string) (interface{}, bool) {
	v, ok := m.data[name]
	if !ok {
		return nil, false
	}
	return CopyValue(v), true
}

// RawString is the base64 encoded telemetry of a RawTelemetry message.
func (m *Message) RawString() string {
	s, _ := m.data[FieldRawString].(string)
	return s
}

func (m *Message) RawBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.RawString())
}

func (m *Message) Frequency() (float64, bool) {
	f, ok := m.data[FieldFrequency].(float64)
	return f, ok
}

// ReceiverMetadata is everything the receiver attached besides the raw string.
func (m *Message) ReceiverMetadata() map[string]interface{} {
	meta := make(map[string]interface{}, len(m.data))
	for k, v := range m.data {
		if k == FieldRawString {
			continue
		}
		meta[k] = CopyValue(v)
	}
	return meta
}

type messageJSON struct {
	ID           string                 `json:"id"`
	Type         Kind                   `json:"type"`
	Callsign     string                 `json:"callsign"`
	IP           string                 `json:"ip"`
	TimeCreated  time.Time              `json:"time_created"`
	TimeUploaded time.Time              `json:"time_uploaded"`
	Data         map[string]interface{} `json:"data"`
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:           m.id,
		Type:         m.kind,
		Callsign:     m.source.callsign,
		IP:           m.source.addr.String(),
		TimeCreated:  m.createdAt,
		TimeUploaded: m.uploadedAt,
		Data:         m.data,
	})
}

func CopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = CopyValue(v)
	}
	return out
}

func CopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = CopyValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
