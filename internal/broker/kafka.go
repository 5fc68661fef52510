package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/logging"
	"habitat/pkg/metrics"
	"habitat/pkg/models"
	"habitat/pkg/retry"
	"habitat/pkg/tracing"
)

type KafkaProducer struct {
	writer      *kafka.Writer
	logger      logger.Logger
	serviceName string
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log, serviceName: constants.ServiceName}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	start := time.Now()
	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)
	metrics.ObserveKafkaWriteDuration(p.serviceName, topic, time.Since(start))

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(p.serviceName, topic)
	metrics.ObserveKafkaMessageSize(p.serviceName, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads uploads from one topic in a consumer group. Offsets
// are committed after the handler succeeds or the upload is dead-lettered,
// so an upload is never dropped silently.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	policy      retry.Policy
	wg          sync.WaitGroup
	reader      *kafka.Reader
	logger      logger.Logger
	dlqProducer Producer
	serviceName string
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	consumer := &KafkaConsumer{
		cfg:         cfg,
		policy:      retry.FromConfig(cfg.Retry),
		logger:      log,
		serviceName: constants.ServiceName,
	}
	if cfg.DLQTopic != "" {
		consumer.dlqProducer = NewKafkaProducer(cfg, log)
	}
	return consumer
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume blocks until ctx is done and then returns ctx.Err().
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	c.logger.InfowCtx(ctx, "Creating Kafka reader",
		"topic", topic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    topic,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fetchLoop(logging.WithServiceName(ctx, c.serviceName), topic, handler)
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *KafkaConsumer) fetchLoop(ctx context.Context, topic string, handler HandlerFunc) {
	c.logger.InfowCtx(ctx, "Started consuming", "topic", topic)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic)
				return
			}
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message", "error", err, "topic", topic)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		start := time.Now()
		metrics.IncKafkaMessagesRead(c.serviceName, topic)
		metrics.ObserveKafkaMessageSize(c.serviceName, topic, "in", len(m.Value))
		metrics.SetKafkaConsumerLag(c.serviceName, topic, m.Partition, c.reader.Lag())

		c.handle(ctx, m, handler)

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit message", "error", err, "topic", topic, "offset", m.Offset)
		}
		metrics.ObserveKafkaReadDuration(c.serviceName, topic, time.Since(start))
	}
}

// handle runs one upload through the handler, dead-lettering it when every
// attempt fails. Undecodable records are logged and skipped.
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	var event models.UploadEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.logger.ErrorwCtx(ctx, "Skipping undecodable upload", "error", err, "topic", m.Topic, "offset", m.Offset)
		return
	}

	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m)
	defer span.End()

	if event.TraceID != "" {
		msgCtx = logging.WithTraceID(msgCtx, event.TraceID)
	}
	msgCtx = logging.WithCallsign(msgCtx, event.Callsign)

	err := c.processMessageWithRetry(msgCtx, event, handler, m.Topic)
	if err == nil {
		return
	}
	span.RecordError(err)

	if c.dlqProducer == nil {
		c.logger.WarnwCtx(msgCtx, "Upload failed and no DLQ is configured, dropping it", "error", err, "topic", m.Topic)
		return
	}
	if dlqErr := c.sendToDLQ(msgCtx, event, err, m.Topic); dlqErr != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to send upload to DLQ", "error", dlqErr, "topic", m.Topic)
	}
}

func (c *KafkaConsumer) Close() error {
	var err error
	if c.reader != nil {
		err = c.reader.Close()
	}
	if c.dlqProducer != nil {
		if closeErr := c.dlqProducer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	c.wg.Wait()
	return err
}

// processMessageWithRetry treats a handler panic as a fatal failure of that
// upload.
func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, event models.UploadEvent, handler HandlerFunc, topic string) error {
	return retry.RetryWithCallback(ctx, c.policy, func() error {
		var handlerErr error
		if err := errors.Guard(func() { handlerErr = handler(ctx, event) }); err != nil {
			c.logger.ErrorwCtx(ctx, "Panic recovered during upload processing", "error", err, "topic", topic)
			return err
		}
		return handlerErr
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, topic).Inc()
		c.logger.WarnwCtx(ctx, "Retrying upload",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"topic", topic,
		)
	})
}

func dlqReason(err error) string {
	var fatal retry.FatalError
	if stderrors.As(err, &fatal) && fatal.IsFatal() {
		return "fatal"
	}
	return "max_retries_exceeded"
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, event models.UploadEvent, cause error, sourceTopic string) error {
	letter := DeadLetter{
		Event:       event,
		Reason:      cause.Error(),
		SourceTopic: sourceTopic,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.dlqProducer.Publish(ctx, c.cfg.DLQTopic, event.Callsign, letter); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	reason := dlqReason(cause)
	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, sourceTopic, reason).Inc()
	c.logger.InfowCtx(ctx, "Upload sent to DLQ",
		"source_topic", sourceTopic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", reason,
		"error", cause.Error(),
	)
	return nil
}
