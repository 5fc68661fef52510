package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitat/internal/broker"
	"habitat/internal/bus"
	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/registry"
	"habitat/pkg/models"
)

const (
	uploadsTopic = "habitat_uploads_test"
	dlqTopic     = "habitat_dlq_test"
	parsedTopic  = "habitat_parsed_test"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []models.UploadEvent
	err    error
}

func (h *recordingHandler) handle(_ context.Context, event models.UploadEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func kafkaConfig(brokers []string, group string) config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:     brokers,
		GroupID:     group,
		InputTopic:  uploadsTopic,
		OutputTopic: parsedTopic,
		DLQTopic:    dlqTopic,
		Retry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     50 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func readOne(t *testing.T, brokers []string, topic string) kafkago.Message {
	t.Helper()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MaxWait:   500 * time.Millisecond,
	})
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	return m
}

func TestKafkaUploadsRoundTrip(t *testing.T) {
	brokers := SetupKafka(t, uploadsTopic, dlqTopic, parsedTopic)
	log := createTestLogger()

	t.Run("uploads reach the handler", func(t *testing.T) {
		cfg := kafkaConfig(brokers, "habitat-roundtrip")
		producer := broker.NewKafkaProducer(cfg, log)
		defer producer.Close()

		for i := 0; i < 3; i++ {
			event := models.UploadEvent{
				ID:       fmt.Sprintf("upload-%d", i),
				Callsign: "M0RND",
				Type:     models.KindListenerInfo.String(),
				Data:     map[string]interface{}{"name": "Adam"},
				IP:       "192.0.2.1",
			}
			require.NoError(t, producer.Publish(context.Background(), uploadsTopic, event.Callsign, event))
		}

		handler := &recordingHandler{}
		consumer := broker.NewKafkaConsumer(cfg, log)
		consumer.SetServiceName(constants.ServiceName)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- consumer.Consume(ctx, uploadsTopic, handler.handle) }()

		assert.Eventually(t, func() bool { return handler.count() == 3 }, 60*time.Second, 100*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		require.NoError(t, consumer.Close())

		handler.mu.Lock()
		defer handler.mu.Unlock()
		assert.Equal(t, "upload-0", handler.events[0].ID)
		assert.Equal(t, "192.0.2.1", handler.events[0].IP)
	})

	t.Run("exhausted uploads go to the dead letter topic", func(t *testing.T) {
		cfg := kafkaConfig(brokers, "habitat-dlq")
		producer := broker.NewKafkaProducer(cfg, log)
		defer producer.Close()

		event := models.UploadEvent{ID: "doomed", Callsign: "M0RND", Type: "LISTENER_INFO", Data: map[string]interface{}{}}
		require.NoError(t, producer.Publish(context.Background(), uploadsTopic, event.Callsign, event))

		handler := &recordingHandler{err: fmt.Errorf("archive unavailable")}
		consumer := broker.NewKafkaConsumer(cfg, log)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- consumer.Consume(ctx, uploadsTopic, handler.handle) }()

		m := readOne(t, brokers, dlqTopic)
		cancel()
		<-done
		require.NoError(t, consumer.Close())

		var letter broker.DeadLetter
		require.NoError(t, json.Unmarshal(m.Value, &letter))
		assert.Equal(t, "M0RND", string(m.Key))
		assert.Equal(t, uploadsTopic, letter.SourceTopic)
		assert.Contains(t, letter.Reason, "archive unavailable")
		assert.GreaterOrEqual(t, handler.count(), 2)
	})
}

func TestPublisherSink(t *testing.T) {
	brokers := SetupKafka(t, parsedTopic)
	log := createTestLogger()

	producer := broker.NewKafkaProducer(kafkaConfig(brokers, "habitat-publisher"), log)
	defer producer.Close()

	reg := registry.New()
	require.NoError(t, bus.RegisterSink(reg, constants.SinkKafka, broker.NewPublisherSinkFactory(producer, parsedTopic, log), "publisher"))

	server := bus.NewServer(reg, log)
	require.NoError(t, server.Start())
	defer server.Shutdown()
	require.NoError(t, server.Load("publisher"))

	require.NoError(t, server.Push(createListenerMessage(t, "M0RND", models.KindListenerInfo, map[string]interface{}{"name": "Adam"})))
	require.NoError(t, server.Push(createListenerMessage(t, "M0RND", models.KindParsedTelemetry, map[string]interface{}{
		"payload":  "habitat",
		"altitude": 4285.0,
	})))
	server.Flush()

	m := readOne(t, brokers, parsedTopic)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(m.Value, &out))
	assert.Equal(t, "M0RND", string(m.Key))
	assert.Equal(t, "TELEM", out["type"])
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "habitat", data["payload"])
}
