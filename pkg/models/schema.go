package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateMessage(msg *Message) error {
	if msg == nil {
		return &ValidationError{
			Field:   "message",
			Message: "message cannot be nil",
		}
	}

	if err := ValidateKind(msg.kind); err != nil {
		return err
	}

	if msg.source.IsZero() {
		return &ValidationError{
			Field:   "source",
			Message: "message source is required",
		}
	}

	if msg.data == nil {
		return &ValidationError{
			Field:   "data",
			Message: "message data cannot be nil",
		}
	}

	if msg.createdAt.IsZero() {
		return &ValidationError{
			Field:   "time_created",
			Message: "message creation time is required",
		}
	}

	if msg.kind == KindRawTelemetry {
		return validateRawTelemetry(msg.data)
	}

	return nil
}

func validateRawTelemetry(data map[string]interface{}) error {
	raw, ok := data[FieldRawString]
	if !ok {
		return &ValidationError{
			Field:   "data.string",
			Message: "raw telemetry requires a base64 'string'",
		}
	}

	s, ok := raw.(string)
	if !ok {
		return &ValidationError{
			Field:   "data.string",
			Message: fmt.Sprintf("raw telemetry 'string' must be a string, got %T", raw),
		}
	}

	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return &ValidationError{
			Field:   "data.string",
			Message: fmt.Sprintf("raw telemetry 'string' is not valid base64: %v", err),
		}
	}

	if f, ok := data[FieldFrequency]; ok {
		v, ok := toFloat(f)
		if !ok {
			return &ValidationError{
				Field:   "data.frequency",
				Message: fmt.Sprintf("frequency must be a number, got %T", f),
			}
		}
		if v < 0 {
			return &ValidationError{
				Field:   "data.frequency",
				Message: "frequency must not be negative",
			}
		}
	}

	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
