package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"
	"time"

	"habitat/pkg/models"
)

const (
	TypeListenerInfo      = "listener_info"
	TypeListenerTelemetry = "listener_telemetry"
)

const (
	FieldRaw              = "_raw"
	FieldListenerMetadata = "_listener_metadata"

	receiverTimeCreated  = "time_created"
	receiverTimeUploaded = "time_uploaded"
)

// PayloadTelemetry is one received string and everything known about it.
// Every receiver of the same string shares the document.
type PayloadTelemetry struct {
	ID        string                            `json:"_id"`
	Revision  int                               `json:"_rev"`
	Data      map[string]interface{}            `json:"data"`
	Receivers map[string]map[string]interface{} `json:"receivers"`
	CreatedAt time.Time                         `json:"created_at"`
	UpdatedAt time.Time                         `json:"updated_at"`
}

func NewPayloadTelemetry(id string) *PayloadTelemetry {
	return &PayloadTelemetry{
		ID:        id,
		Data:      make(map[string]interface{}),
		Receivers: make(map[string]map[string]interface{}),
	}
}

// PayloadTelemetryID is the hex sha256 of the base64 encoded string.
func PayloadTelemetryID(rawBase64 string) string {
	sum := sha256.Sum256([]byte(rawBase64))
	return hex.EncodeToString(sum[:])
}

// AddReceiver records msg's sender as a receiver, replacing any earlier
// record from the same callsign.
func (d *PayloadTelemetry) AddReceiver(callsign string, metadata map[string]interface{}, createdAt, uploadedAt time.Time) {
	info := models.CopyMap(metadata)
	if info == nil {
		info = make(map[string]interface{})
	}
	info[receiverTimeCreated] = createdAt.UTC().Format(time.RFC3339)
	info[receiverTimeUploaded] = uploadedAt.UTC().Format(time.RFC3339)
	d.Receivers[callsign] = info
}

func (d *PayloadTelemetry) HasReceiver(callsign string) bool {
	_, ok := d.Receivers[callsign]
	return ok
}

// MergeData overwrites stored fields with fields; fields absent from the
// update are kept.
func (d *PayloadTelemetry) MergeData(fields map[string]interface{}) {
	for k, v := range fields {
		d.Data[k] = models.CopyValue(v)
	}
}

// ListenerDoc is a ListenerInfo or ListenerTelemetry record.
type ListenerDoc struct {
	ID           string                 `json:"_id"`
	Type         string                 `json:"type"`
	Callsign     string                 `json:"callsign"`
	Data         map[string]interface{} `json:"data"`
	TimeCreated  time.Time              `json:"time_created"`
	TimeUploaded time.Time              `json:"time_uploaded"`
}

func newListenerDoc(docType string, msg *models.Message) *ListenerDoc {
	data := msg.Data()
	data["callsign"] = msg.Source().Callsign()
	return &ListenerDoc{
		ID:           msg.ID(),
		Type:         docType,
		Callsign:     msg.Source().Callsign(),
		Data:         data,
		TimeCreated:  msg.CreatedAt(),
		TimeUploaded: msg.UploadedAt(),
	}
}

// SameData compares payloads after a JSON round trip has normalised numbers.
func (d *ListenerDoc) SameData(other map[string]interface{}) bool {
	return reflect.DeepEqual(normalize(d.Data), normalize(other))
}
