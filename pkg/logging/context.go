package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	ServiceNameKey = "service_name"
	CallsignKey    = "callsign"
	RequestIDKey   = "request_id"
)

// logFieldOrder is the order fields appear in log lines.
var logFieldOrder = []string{TraceIDKey, RequestIDKey, MessageIDKey, ServiceNameKey, CallsignKey}

func with(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

func get(ctx context.Context, key string) string {
	v, _ := ctx.Value(contextKey(key)).(string)
	return v
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

// WithMessageID tags work done on behalf of one bus message.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

// WithCallsign tags work done for a listener or payload callsign.
func WithCallsign(ctx context.Context, callsign string) context.Context {
	return with(ctx, CallsignKey, callsign)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, RequestIDKey, requestID)
}

func GetTraceID(ctx context.Context) string     { return get(ctx, TraceIDKey) }
func GetMessageID(ctx context.Context) string   { return get(ctx, MessageIDKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }
func GetCallsign(ctx context.Context) string    { return get(ctx, CallsignKey) }
func GetRequestID(ctx context.Context) string   { return get(ctx, RequestIDKey) }

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(logFieldOrder))
	for _, key := range logFieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
