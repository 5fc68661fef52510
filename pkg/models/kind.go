package models

import (
	"encoding/json"
	"fmt"
)

type Kind int

const (
	KindRawTelemetry Kind = iota
	KindListenerInfo
	KindListenerTelemetry
	KindParsedTelemetry
)

var kindNames = [...]string{
	KindRawTelemetry:      "RECEIVED_TELEM",
	KindListenerInfo:      "LISTENER_INFO",
	KindListenerTelemetry: "LISTENER_TELEM",
	KindParsedTelemetry:   "TELEM",
}

func AllKinds() []Kind {
	return []Kind{KindRawTelemetry, KindListenerInfo, KindListenerTelemetry, KindParsedTelemetry}
}

func (k Kind) Valid() bool {
	return k >= KindRawTelemetry && k <= KindParsedTelemetry
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, &ValidationError{
		Field:   "type",
		Message: fmt.Sprintf("invalid message type: %q", name),
	}
}

func ValidateKind(k Kind) error {
	if !k.Valid() {
		return &ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("type is not a valid message type: %d", int(k)),
		}
	}
	return nil
}

func (k Kind) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, ValidateKind(k)
	}
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
