package broker

import (
	"errors"
	"fmt"

	"habitat/internal/config"
	"habitat/internal/logger"
)

const TypeKafka = "kafka"

// Conn is the producer and consumer side of one broker.
type Conn struct {
	Producer Producer
	Consumer Consumer
}

// Open builds both sides for cfg.Type. The consumer reports itself to the
// dead letter topic as service.
func Open(cfg config.BrokerConfig, service string, log logger.Logger) (*Conn, error) {
	switch cfg.Type {
	case TypeKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("broker.kafka.brokers is empty")
		}
		consumer := NewKafkaConsumer(cfg.Kafka, log.Named("consumer"))
		if service != "" {
			consumer.SetServiceName(service)
		}
		return &Conn{
			Producer: NewKafkaProducer(cfg.Kafka, log.Named("producer")),
			Consumer: consumer,
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %q", cfg.Type)
	}
}

// Close stops the consumer before the producer so that dead letters raised
// while draining can still be written.
func (c *Conn) Close() error {
	var errs []error
	if c.Consumer != nil {
		if err := c.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer: %w", err))
		}
	}
	if c.Producer != nil {
		if err := c.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer: %w", err))
		}
	}
	return errors.Join(errs...)
}
