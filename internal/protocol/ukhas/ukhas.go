// Package ukhas implements the UKHAS text sentence protocol:
//
//	$$<callsign>,<field>,...,<field>*<checksum>
//
// The checksum covers the bytes between "$$" and "*" and is two (xor) or four
// hex digits. With the "none" algorithm the "*" segment is absent.
package ukhas

import (
	"fmt"
	"regexp"
	"strings"

	"habitat/internal/protocol"
	"habitat/internal/registry"
	"habitat/internal/sensors"
	"habitat/pkg/checksums"
)

const Name = "UKHAS"

var (
	printableExp = regexp.MustCompile(`^[\x20-\x7E]+$`)
	callsignExp  = regexp.MustCompile(`^[a-zA-Z0-9/_\-]+$`)
	checksumExp  = regexp.MustCompile(`^[a-fA-F0-9]+$`)
)

type Module struct {
	registry *registry.Registry
}

// New returns the module. Field sensors are resolved in reg at parse time.
func New(reg *registry.Registry) *Module {
	return &Module{registry: reg}
}

func Register(reg *registry.Registry) error {
	return reg.Register("ukhas", New(reg), "protocol.ukhas")
}

func (m *Module) Name() string {
	return Name
}

func (m *Module) PreParse(data string) (string, error) {
	body, _, _, err := splitBasicFormat(data)
	if err != nil {
		return "", err
	}

	fields, err := extractFields(body)
	if err != nil {
		return "", err
	}

	if err := verifyCallsign(fields[0]); err != nil {
		return "", err
	}
	return strings.ToUpper(fields[0]), nil
}

func (m *Module) Parse(data string, config protocol.SentenceConfig) (map[string]interface{}, error) {
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}

	body, checksum, hasChecksum, err := splitBasicFormat(data)
	if err != nil {
		return nil, err
	}

	if err := verifyChecksum(body, checksum, hasChecksum, config.Checksum); err != nil {
		return nil, err
	}

	fields, err := extractFields(body)
	if err != nil {
		return nil, err
	}
	if err := verifyCallsign(fields[0]); err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"payload":   fields[0],
		"_sentence": data,
	}

	for i, raw := range fields[1:] {
		if i >= len(config.Fields) {
			extra := make([]string, len(fields)-1-i)
			copy(extra, fields[1+i:])
			output["_extra_data"] = extra
			break
		}

		fieldConfig := config.Fields[i]
		value, err := m.parseField(fieldConfig, raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldConfig.Name, err)
		}
		output[fieldConfig.Name] = value
	}

	return output, nil
}

func (m *Module) parseField(field protocol.FieldConfig, raw string) (interface{}, error) {
	sensor, _, err := registry.Resolve[sensors.Func](m.registry, field.Sensor)
	if err != nil {
		return nil, err
	}
	return sensor(field, raw)
}

// VerifyConfig checks that config is a usable UKHAS sentence description.
func VerifyConfig(config protocol.SentenceConfig) error {
	if config.Protocol != Name {
		return fmt.Errorf("configuration is for protocol %q, not %s", config.Protocol, Name)
	}
	if !checksums.IsSupported(config.Checksum) {
		return fmt.Errorf("unsupported checksum algorithm %q", config.Checksum)
	}
	if len(config.Fields) < 1 {
		return fmt.Errorf("at least one field must be configured")
	}
	for i, f := range config.Fields {
		if f.Name == "" || f.Sensor == "" {
			return fmt.Errorf("field %d needs a name and a sensor", i)
		}
		if strings.HasPrefix(f.Name, "_") {
			return fmt.Errorf("field name %q starts with an underscore", f.Name)
		}
	}
	return nil
}

// splitBasicFormat strips the "$$" prefix, an optional trailing newline and
// the checksum, and validates what is left.
func splitBasicFormat(data string) (string, string, bool, error) {
	if len(data) < 8 {
		return "", "", false, fmt.Errorf("sentence is shorter than 8 characters")
	}
	if !strings.HasPrefix(data, "$$") {
		return "", "", false, fmt.Errorf("sentence does not start with $$")
	}

	s := strings.TrimSuffix(data[2:], "\n")
	if !printableExp.MatchString(s) {
		return "", "", false, fmt.Errorf("sentence contains characters that are not printable ASCII")
	}

	body, checksum, ok := splitChecksum(s)
	if ok && !checksumExp.MatchString(checksum) {
		return "", "", false, fmt.Errorf("checksum contains non-hex digits")
	}
	return body, checksum, ok, nil
}

func splitChecksum(s string) (string, string, bool) {
	n := len(s)
	switch {
	case n >= 3 && s[n-3] == '*':
		return s[:n-3], s[n-2:], true
	case n >= 5 && s[n-5] == '*':
		return s[:n-5], s[n-4:], true
	default:
		return s, "", false
	}
}

func extractFields(body string) ([]string, error) {
	fields := strings.Split(body, ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("no fields found")
	}
	return fields, nil
}

func verifyCallsign(callsign string) error {
	if !callsignExp.MatchString(callsign) {
		return fmt.Errorf("invalid callsign %q", callsign)
	}
	return nil
}

func verifyChecksum(body, checksum string, hasChecksum bool, algorithm string) error {
	if algorithm == checksums.AlgorithmNone {
		return nil
	}
	if !hasChecksum {
		return fmt.Errorf("no checksum found but configuration specifies %s", algorithm)
	}
	return checksums.Verify(algorithm, []byte(body), checksum)
}
