package broker

import (
	"context"

	"habitat/internal/bus"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/models"
)

// Publisher forwards parsed telemetry to a Kafka topic for consumers
// outside the process. Messages are keyed by receiver callsign.
type Publisher struct {
	producer Producer
	topic    string
	logger   logger.Logger
}

func NewPublisher(producer Producer, topic string, log logger.Logger) *Publisher {
	if topic == "" {
		topic = constants.DefaultOutputTopic
	}
	return &Publisher{producer: producer, topic: topic, logger: log}
}

func NewPublisherSinkFactory(producer Producer, topic string, log logger.Logger) bus.SinkFactory {
	return func(_ *bus.Server) (bus.Sink, error) {
		return bus.NewThreadedSink(constants.SinkKafka, NewPublisher(producer, topic, log), log)
	}
}

func (p *Publisher) Setup(types *bus.TypeSet) error {
	return types.AddType(models.KindParsedTelemetry)
}

func (p *Publisher) HandleMessage(ctx context.Context, msg *models.Message) {
	if err := p.producer.Publish(ctx, p.topic, msg.Source().Callsign(), msg); err != nil {
		p.logger.ErrorwCtx(ctx, "Failed to publish parsed telemetry", "topic", p.topic, "error", err)
	}
}
