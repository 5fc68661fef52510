package filtering

import (
	"fmt"
	"strconv"
	"strings"

	"habitat/internal/protocol/ukhas"
	"habitat/internal/registry"
	"habitat/pkg/checksums"
)

// DataFilter and ConfigFilter are the two shapes a normal filter may have.
// Raw-stage filters receive and return a string; post filters a field map.
type DataFilter func(data interface{}) (interface{}, error)

type ConfigFilter func(config map[string]interface{}, data interface{}) (interface{}, error)

// RegisterBuiltins adds the bundled filters under their plain names and
// under a "filters." prefix.
func RegisterBuiltins(reg *registry.Registry) error {
	configFilters := map[string]ConfigFilter{
		"semicolons_to_commas": SemicolonsToCommas,
		"numeric_scale":        NumericScale,
		"simple_map":           SimpleMap,
	}
	for name, fn := range configFilters {
		if err := reg.Register(name, fn, "filters."+name); err != nil {
			return err
		}
	}

	return reg.Register("printable_only", DataFilter(PrintableOnly), "filters.printable_only")
}

// SemicolonsToCommas rewrites a UKHAS sentence that uses ";" as its field
// separator. The checksum is fixed up only when the original one was valid.
func SemicolonsToCommas(config map[string]interface{}, data interface{}) (interface{}, error) {
	sentence, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("semicolons_to_commas expects a string, got %T", data)
	}

	algorithm := checksums.AlgorithmCRC16CCITT
	if v, ok := config["checksum"].(string); ok && v != "" {
		algorithm = v
	}

	return ukhas.FixChecksum(algorithm, sentence, strings.ReplaceAll(sentence, ";", ",")), nil
}

// NumericScale multiplies config.source by config.factor and stores the
// result in config.destination, which defaults to the source field.
func NumericScale(config map[string]interface{}, data interface{}) (interface{}, error) {
	fields, source, destination, err := singleField(config, data)
	if err != nil {
		return nil, err
	}

	factor, err := toFloat(config["factor"])
	if err != nil {
		return nil, fmt.Errorf("numeric_scale factor: %w", err)
	}

	value, err := toFloat(fields[source])
	if err != nil {
		return nil, fmt.Errorf("numeric_scale field %s: %w", source, err)
	}

	fields[destination] = value * factor
	return fields, nil
}

// SimpleMap replaces config.source with its entry in config.map.
func SimpleMap(config map[string]interface{}, data interface{}) (interface{}, error) {
	fields, source, destination, err := singleField(config, data)
	if err != nil {
		return nil, err
	}

	valueMap, ok := config["map"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("simple_map map should be an object")
	}

	raw, ok := fields[source]
	if !ok {
		return nil, fmt.Errorf("simple_map field %s missing", source)
	}
	mapped, ok := valueMap[fmt.Sprint(raw)]
	if !ok {
		return nil, fmt.Errorf("simple_map has no entry for %v", raw)
	}

	fields[destination] = mapped
	return fields, nil
}

// PrintableOnly drops bytes outside printable ASCII, keeping a newline.
func PrintableOnly(data interface{}) (interface{}, error) {
	sentence, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("printable_only expects a string, got %T", data)
	}

	var b strings.Builder
	b.Grow(len(sentence))
	for i := 0; i < len(sentence); i++ {
		c := sentence[i]
		if (c >= 0x20 && c <= 0x7E) || c == '\n' {
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func singleField(config map[string]interface{}, data interface{}) (map[string]interface{}, string, string, error) {
	fields, ok := data.(map[string]interface{})
	if !ok {
		return nil, "", "", fmt.Errorf("expected parsed fields, got %T", data)
	}

	source, _ := config["source"].(string)
	if source == "" {
		return nil, "", "", fmt.Errorf("source is required")
	}

	destination := source
	if v, ok := config["destination"].(string); ok && v != "" {
		destination = v
	}
	if strings.HasPrefix(destination, "_") {
		return nil, "", "", fmt.Errorf("destination must not start with _")
	}

	return fields, source, destination, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
