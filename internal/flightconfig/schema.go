package flightconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"habitat/pkg/models"
)

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["_id", "payloads"],
  "properties": {
    "_id": {"type": "string", "minLength": 1},
    "type": {"enum": ["flight", "sandbox"]},
    "name": {"type": "string"},
    "start": {"type": "string", "format": "date-time"},
    "end": {"type": "string", "format": "date-time"},
    "payloads": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"$ref": "#/definitions/payload"}
    }
  },
  "if": {"properties": {"type": {"const": "sandbox"}}, "required": ["type"]},
  "then": {},
  "else": {"required": ["end"]},
  "definitions": {
    "payload": {
      "type": "object",
      "required": ["sentence"],
      "properties": {
        "sentence": {
          "type": "object",
          "required": ["protocol"],
          "properties": {
            "protocol": {"type": "string", "minLength": 1},
            "checksum": {"type": "string"},
            "fields": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["name", "sensor"],
                "properties": {
                  "name": {"type": "string", "minLength": 1, "pattern": "^[^_]"},
                  "sensor": {"type": "string", "minLength": 1},
                  "format": {"type": "string"}
                }
              }
            }
          }
        },
        "filters": {
          "type": "object",
          "properties": {
            "intermediate": {"$ref": "#/definitions/filters"},
            "post": {"$ref": "#/definitions/filters"}
          },
          "additionalProperties": false
        }
      }
    },
    "filters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "oneOf": [
          {
            "properties": {"type": {"const": "normal"}},
            "required": ["filter"]
          },
          {
            "properties": {"type": {"const": "hotfix"}},
            "required": ["code", "signature"]
          }
        ]
      }
    }
  }
}`

var documentSchemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateFlightDocument checks raw JSON against the flight document schema
// and decodes it. Every payload callsign must be a valid listener callsign.
func ValidateFlightDocument(raw []byte) (*Document, error) {
	result, err := gojsonschema.Validate(documentSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, fmt.Errorf("flight document is invalid: %s", strings.Join(problems, "; "))
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode flight document: %w", err)
	}

	for callsign := range doc.Payloads {
		if err := models.ValidateCallsign(callsign); err != nil {
			return nil, fmt.Errorf("payload %q: %w", callsign, err)
		}
	}

	if doc.Type != TypeSandbox && doc.Start != nil && doc.End.Before(*doc.Start) {
		return nil, fmt.Errorf("flight document %s ends before it starts", doc.ID)
	}

	doc.Normalize()
	return &doc, nil
}

// ParseDocuments validates a single flight document or a JSON array of them.
func ParseDocuments(raw []byte) ([]*Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		doc, err := ValidateFlightDocument(trimmed)
		if err != nil {
			return nil, err
		}
		return []*Document{doc}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("failed to decode flight documents: %w", err)
	}

	docs := make([]*Document, 0, len(items))
	for i, item := range items {
		doc, err := ValidateFlightDocument(item)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func ReadDocumentsFile(path string) ([]*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flights file: %w", err)
	}
	return ParseDocuments(raw)
}
