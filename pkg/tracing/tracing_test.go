package tracing

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"habitat/internal/config"
	"habitat/pkg/models"
)

func TestKafkaTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "upload")
	defer span.End()

	headers := InjectTraceContext(ctx, []kafka.Header{{Key: "source", Value: []byte("gateway")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "traceparent", headers[1].Key)

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), headers))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())

	consumeCtx, consumeSpan := StartSpanFromKafkaMessage(context.Background(), "kafka.consume", kafka.Message{Topic: "uploads", Key: []byte("M0RND"), Headers: headers})
	defer consumeSpan.End()
	assert.NotNil(t, consumeCtx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SamplerConfig
		want string
	}{
		{name: "default", cfg: config.SamplerConfig{}, want: "AlwaysOnSampler"},
		{name: "off", cfg: config.SamplerConfig{Type: "always_off"}, want: "AlwaysOffSampler"},
		{name: "ratio", cfg: config.SamplerConfig{Type: "traceidratio", Param: 0.5}, want: "TraceIDRatioBased{0.5}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sampler(tt.cfg).Description())
		})
	}
}

func TestMessageAttributes(t *testing.T) {
	msg, err := models.NewMessage(models.MustListener("M0RND", "127.0.0.1"), models.KindListenerInfo, map[string]interface{}{"name": "Adam"})
	require.NoError(t, err)

	attrs := MessageAttributes(msg)
	require.Len(t, attrs, 3)
	assert.Equal(t, "LISTENER_INFO", attrs[1].Value.AsString())
	assert.Equal(t, "M0RND", attrs[2].Value.AsString())
}

func TestTraced(t *testing.T) {
	assert.False(t, traced(httptest.NewRequest("GET", "/health", nil)))
	assert.True(t, traced(httptest.NewRequest("POST", "/api/v1/messages", nil)))
}
