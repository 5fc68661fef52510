package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageBuilder struct {
	msg *Message
}

func NewMessageBuilder(kind Kind) *MessageBuilder {
	return &MessageBuilder{
		msg: &Message{
			kind: kind,
			data: make(map[string]interface{}),
		},
	}
}

func (b *MessageBuilder) WithID(id string) *MessageBuilder {
	b.msg.id = id
	return b
}

func (b *MessageBuilder) WithSource(source Listener) *MessageBuilder {
	b.msg.source = source
	return b
}

func (b *MessageBuilder) WithCreatedAt(t time.Time) *MessageBuilder {
	b.msg.createdAt = t
	return b
}

func (b *MessageBuilder) WithUploadedAt(t time.Time) *MessageBuilder {
	b.msg.uploadedAt = t
	return b
}

func (b *MessageBuilder) WithData(data map[string]interface{}) *MessageBuilder {
	b.msg.data = CopyMap(data)
	return b
}

// Build validates and normalises the payload for the message kind. The
// builder must not be reused afterwards.
func (b *MessageBuilder) Build() (*Message, error) {
	msg := b.msg
	b.msg = nil

	if msg.id == "" {
		msg.id = uuid.New().String()
	}

	now := time.Now().UTC()
	if msg.uploadedAt.IsZero() {
		msg.uploadedAt = now
	}
	if msg.createdAt.IsZero() {
		msg.createdAt = msg.uploadedAt
	}

	if err := ValidateMessage(msg); err != nil {
		return nil, err
	}

	if msg.kind == KindRawTelemetry {
		normaliseRawTelemetry(msg.data)
	}

	return msg, nil
}

func normaliseRawTelemetry(data map[string]interface{}) {
	if f, ok := data[FieldFrequency]; ok {
		if v, ok := toFloat(f); ok {
			data[FieldFrequency] = v
		}
	}
}
