// Package protocol defines the contract between the parser and the modules
// that understand one wire telemetry format each.
package protocol

// Module turns raw telemetry into fields. PreParse must be cheap and must not
// verify checksums: it only finds out who sent the data so the parser can
// fetch their configuration. Parse does the full validation.
type Module interface {
	Name() string
	PreParse(data string) (string, error)
	Parse(data string, config SentenceConfig) (map[string]interface{}, error)
}

// SentenceConfig is the "sentence" section of a payload configuration.
type SentenceConfig struct {
	Protocol string                 `json:"protocol" bson:"protocol" mapstructure:"protocol"`
	Checksum string                 `json:"checksum,omitempty" bson:"checksum,omitempty" mapstructure:"checksum"`
	Fields   []FieldConfig          `json:"fields,omitempty" bson:"fields,omitempty" mapstructure:"fields"`
	Options  map[string]interface{} `json:"options,omitempty" bson:"options,omitempty" mapstructure:"options"`
}

// FieldConfig describes one positional field and the sensor that decodes it.
type FieldConfig struct {
	Name    string                 `json:"name" bson:"name" mapstructure:"name"`
	Sensor  string                 `json:"sensor" bson:"sensor" mapstructure:"sensor"`
	Format  string                 `json:"format,omitempty" bson:"format,omitempty" mapstructure:"format"`
	Options map[string]interface{} `json:"options,omitempty" bson:"options,omitempty" mapstructure:"options"`
}
