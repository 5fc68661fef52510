// Package sensors holds the value decoders protocol modules apply to
// individual telemetry fields. They are looked up by name in the registry.
package sensors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"habitat/internal/protocol"
	"habitat/internal/registry"
)

// Func decodes one field value. Sensors that need no configuration ignore
// field.
type Func func(field protocol.FieldConfig, value string) (interface{}, error)

func simple(fn func(string) (interface{}, error)) Func {
	return func(_ protocol.FieldConfig, value string) (interface{}, error) {
		return fn(value)
	}
}

// Register adds the built-in sensors under their dotted names. The "sensors."
// prefixed aliases let configurations name them either way.
func Register(reg *registry.Registry) error {
	builtins := map[string]Func{
		"base.ascii_int":      simple(ASCIIInt),
		"base.ascii_float":    simple(ASCIIFloat),
		"base.string":         simple(String),
		"stdtelem.time":       simple(Time),
		"stdtelem.coordinate": Coordinate,
	}

	for name, fn := range builtins {
		if err := reg.Register(name, fn, "sensors."+name); err != nil {
			return err
		}
	}
	return nil
}

func ASCIIInt(value string) (interface{}, error) {
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}

func ASCIIFloat(value string) (interface{}, error) {
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid float %q", value)
	}
	return finite(f, value)
}

// finite rejects NaN and infinities, which have no JSON encoding.
func finite(f float64, value string) (interface{}, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid number %q", value)
	}
	return f, nil
}

func String(value string) (interface{}, error) {
	return value, nil
}

var timeLayouts = map[int]string{
	8: "15:04:05",
	6: "150405",
	5: "15:04",
	4: "1504",
}

// Time accepts HH:MM:SS, HHMMSS, HH:MM and HHMM. Seconds are only present in
// the output when the input had them.
func Time(value string) (interface{}, error) {
	layout, ok := timeLayouts[len(value)]
	if !ok {
		return nil, fmt.Errorf("invalid time value %q", value)
	}

	t, err := time.Parse(layout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid time value %q", value)
	}

	out := map[string]interface{}{
		"hour":   t.Hour(),
		"minute": t.Minute(),
	}
	if len(value) == 8 || len(value) == 6 {
		out["second"] = t.Second()
	}
	return out, nil
}

// Coordinate parses decimal degrees ("dd.dddd") or degrees and decimal
// minutes ("ddmm.mmmm") as selected by field.Format.
func Coordinate(field protocol.FieldConfig, value string) (interface{}, error) {
	if field.Format == "" {
		return nil, fmt.Errorf("coordinate format missing")
	}

	value = strings.TrimSpace(value)
	left, right, ok := strings.Cut(field.Format, ".")
	if !ok || left == "" || right == "" {
		return nil, fmt.Errorf("invalid coordinate format %q", field.Format)
	}

	switch {
	case strings.HasSuffix(left, "d") && strings.HasSuffix(right, "d"):
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q", value)
		}
		return finite(f, value)

	case strings.HasPrefix(left, "d") && strings.HasSuffix(left, "m") && strings.HasSuffix(right, "m"):
		return degreesMinutes(value)

	default:
		return nil, fmt.Errorf("invalid coordinate format %q", field.Format)
	}
}

func degreesMinutes(value string) (interface{}, error) {
	first, second, ok := strings.Cut(value, ".")
	if !ok || len(first) < 3 {
		return nil, fmt.Errorf("invalid coordinate %q", value)
	}

	degrees, err := strconv.ParseFloat(first[:len(first)-2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinate %q", value)
	}
	minutes, err := strconv.ParseFloat(first[len(first)-2:]+"."+second, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinate %q", value)
	}
	if minutes > 60 {
		return nil, fmt.Errorf("minutes component of %q exceeds 60", value)
	}

	// "-00" parses as negative zero, so the sign survives copysign.
	degrees += math.Copysign(minutes/60, degrees)

	digits := len(second) + 3
	scale := math.Pow(10, float64(digits))
	return finite(math.Round(degrees*scale)/scale, value)
}
