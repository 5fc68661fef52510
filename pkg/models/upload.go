package models

import (
	"time"
)

// UploadEvent is the wire form producers use over HTTP and Kafka.
type UploadEvent struct {
	ID          string                 `json:"id,omitempty"`
	Callsign    string                 `json:"callsign"`
	Type        string                 `json:"type"`
	Data        map[string]interface{} `json:"data"`
	IP          string                 `json:"ip,omitempty"` // trusted on the broker path only
	TimeCreated *time.Time             `json:"time_created,omitempty"`
	TraceID     string                 `json:"trace_id,omitempty"`
}

// ToMessage builds the bus message for an upload sent from ip. The event's own
// IP field is never consulted here: only the caller knows whether the
// transport vouches for it. Parsed telemetry can only come from the parser,
// so producers may not insert it directly.
func (e UploadEvent) ToMessage(ip string) (*Message, error) {
	if e.Callsign == "" || e.Type == "" || e.Data == nil {
		return nil, &ValidationError{
			Field:   "upload",
			Message: "required arguments: callsign, type, data",
		}
	}

	kind, err := ParseKind(e.Type)
	if err != nil {
		return nil, err
	}

	if kind == KindParsedTelemetry {
		return nil, &ValidationError{
			Field:   "type",
			Message: "type forbidden for direct insertion",
		}
	}

	source, err := NewListener(e.Callsign, ip)
	if err != nil {
		return nil, err
	}

	b := NewMessageBuilder(kind).
		WithID(e.ID).
		WithSource(source).
		WithData(e.Data)
	if e.TimeCreated != nil {
		b = b.WithCreatedAt(e.TimeCreated.UTC())
	}

	return b.Build()
}
