package flightconfig

import (
	"context"
	"sort"
	"strings"
	"time"

	"habitat/internal/filtering"
	"habitat/internal/protocol"
)

const (
	TypeFlight  = "flight"
	TypeSandbox = "sandbox"
)

// PayloadConfig is how one callsign's telemetry should be parsed.
type PayloadConfig struct {
	Sentence protocol.SentenceConfig `json:"sentence" bson:"sentence" mapstructure:"sentence"`
	Filters  filtering.Lists         `json:"filters,omitempty" bson:"filters,omitempty" mapstructure:"filters"`
}

// Document is a flight or sandbox configuration. Flights apply between Start
// and End; sandboxes have no window and are used only when no flight
// matches.
type Document struct {
	ID        string                   `json:"_id" bson:"_id"`
	Type      string                   `json:"type" bson:"type"`
	Name      string                   `json:"name,omitempty" bson:"name,omitempty"`
	Start     *time.Time               `json:"start,omitempty" bson:"start,omitempty"`
	End       time.Time                `json:"end,omitempty" bson:"end,omitempty"`
	Callsigns []string                 `json:"callsigns,omitempty" bson:"callsigns"`
	Payloads  map[string]PayloadConfig `json:"payloads" bson:"payloads"`
}

// Normalize fills in the derived fields: the type defaults to flight and
// Callsigns lists the upper-cased payload keys, which is what lookups query.
func (d *Document) Normalize() {
	if d.Type == "" {
		d.Type = TypeFlight
	}

	d.Callsigns = make([]string, 0, len(d.Payloads))
	for callsign := range d.Payloads {
		d.Callsigns = append(d.Callsigns, strings.ToUpper(callsign))
	}
	sort.Strings(d.Callsigns)
}

// Payload finds callsign's configuration ignoring case. The returned key is
// the callsign as the document spells it.
func (d *Document) Payload(callsign string) (string, PayloadConfig, bool) {
	if cfg, ok := d.Payloads[callsign]; ok {
		return callsign, cfg, true
	}
	for key, cfg := range d.Payloads {
		if strings.EqualFold(key, callsign) {
			return key, cfg, true
		}
	}
	return "", PayloadConfig{}, false
}

func (d *Document) activeAt(at time.Time) bool {
	if d.Type != TypeFlight {
		return false
	}
	if d.Start != nil && d.Start.After(at) {
		return false
	}
	return !d.End.Before(at)
}

// Match is the result of a successful lookup.
type Match struct {
	DocumentID string        `json:"document_id"`
	Type       string        `json:"type"`
	Callsign   string        `json:"callsign"`
	Payload    PayloadConfig `json:"payload"`
}

func newMatch(doc *Document, callsign string) (*Match, bool) {
	key, cfg, ok := doc.Payload(callsign)
	if !ok {
		return nil, false
	}
	return &Match{DocumentID: doc.ID, Type: doc.Type, Callsign: key, Payload: cfg}, true
}

// Store finds the configuration that applies to callsign at a given time:
// the flight with the earliest end that is active at that time, otherwise a
// sandbox. A miss is errors.ErrNotFound.
type Store interface {
	Lookup(ctx context.Context, callsign string, at time.Time) (*Match, error)
}
