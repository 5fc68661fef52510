package broker

import (
	"context"

	"habitat/pkg/models"
)

type Producer interface {
	// Publish JSON encodes value and writes it to topic under key.
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

// HandlerFunc processes one upload. Errors are retried unless they report
// themselves fatal; exhausted uploads go to the dead letter topic.
type HandlerFunc func(ctx context.Context, event models.UploadEvent) error

// DeadLetter is what lands on the DLQ topic.
type DeadLetter struct {
	Event       models.UploadEvent `json:"event"`
	Reason      string             `json:"reason"`
	SourceTopic string             `json:"source_topic"`
	Timestamp   string             `json:"timestamp"`
}
