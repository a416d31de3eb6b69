package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/astrodev/telemetry-core/internal/device"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
)

// MessageType is the discriminant carried in every inbound message.
type MessageType string

// Routed message types. Anything else is rejected before dispatch.
const (
	TypeSensorData     MessageType = "sensor_data"
	TypeDeviceStatus   MessageType = "device_status"
	TypeCommand        MessageType = "command"
	TypeTestConnection MessageType = "test_connection"
)

// Envelope is a decoded inbound message: the type discriminant, the
// device id as carried in the payload (may be empty, see ResolveDeviceID),
// the source topic when the message arrived over MQTT, and the open
// extension map holding every payload field except the discriminant.
//
// Known fields are extracted through typed accessors; unknown fields
// ride along in Fields untouched so device-specific telemetry is never
// lost between transports.
type Envelope struct {
	Type     MessageType
	DeviceID string
	Topic    string
	Fields   map[string]interface{}
}

// ParseEnvelope decodes a raw message body into an Envelope.
//
// Returns:
//   - ErrMalformedPayload when the body is not a JSON object
//   - ErrUnknownMessageType when the type discriminant is missing or
//     not one of the routed message types
func ParseEnvelope(body []byte) (*Envelope, error) {
	raw, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	typ, _ := raw["type"].(string)
	return newEnvelope(MessageType(typ), raw)
}

// ParseTopicEnvelope decodes a message received on a bridge
// subscription. Field firmware publishes bare telemetry with no type
// discriminant, so when the payload carries none the topic's kind
// segment supplies it: .../data maps to sensor_data and .../status to
// device_status. An explicit discriminant in the payload still wins.
func ParseTopicEnvelope(topic string, payload []byte) (*Envelope, error) {
	raw, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		typ = string(typeFromTopic(topic))
	}
	env, err := newEnvelope(MessageType(typ), raw)
	if err != nil {
		return nil, err
	}
	env.Topic = topic
	return env, nil
}

func decodeObject(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

func newEnvelope(typ MessageType, raw map[string]interface{}) (*Envelope, error) {
	switch typ {
	case TypeSensorData, TypeDeviceStatus, TypeCommand, TypeTestConnection:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}

	env := &Envelope{
		Type:   typ,
		Fields: make(map[string]interface{}, len(raw)),
	}
	for key, value := range raw {
		if key == "type" {
			continue
		}
		env.Fields[key] = value
	}
	if id, ok := env.Fields["device_id"].(string); ok {
		env.DeviceID = id
	}
	return env, nil
}

// typeFromTopic maps the kind segment of a device topic
// (<ns>/devices/<id>/<kind>) onto a message type. Unknown kinds yield
// the empty type, which the discriminant check then rejects.
func typeFromTopic(topic string) MessageType {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 {
		return ""
	}
	switch parts[3] {
	case "data":
		return TypeSensorData
	case "status":
		return TypeDeviceStatus
	}
	return ""
}

// Blob returns the payload fields that form a reading's structured
// document: everything except the type discriminant and the device id.
// The returned map is a copy, callers may mutate it freely.
func (e *Envelope) Blob() map[string]interface{} {
	blob := make(map[string]interface{}, len(e.Fields))
	for key, value := range e.Fields {
		if key == "device_id" {
			continue
		}
		blob[key] = value
	}
	return blob
}

// Reading builds a sensor reading for the resolved device. Well-known
// scalars are lifted into dedicated fields when present and numeric;
// the blob retains the full payload regardless.
func (e *Envelope) Reading(deviceID string, at time.Time) *device.SensorReading {
	return &device.SensorReading{
		DeviceID:    deviceID,
		Temperature: e.floatField("temperature"),
		Humidity:    e.floatField("humidity"),
		Pressure:    e.floatField("pressure"),
		Battery:     e.floatField("battery"),
		Data:        e.Blob(),
		RecordedAt:  at,
	}
}

// StatusReport extracts the transient device fields carried by a
// device_status message. Absent fields stay nil so sparse reports
// preserve previously stored values.
func (e *Envelope) StatusReport() device.StatusReport {
	report := device.StatusReport{
		Battery:  e.floatField("battery"),
		WiFiRSSI: e.intField("wifi_rssi"),
		Uptime:   e.int64Field("uptime"),
		FreeHeap: e.int64Field("free_heap"),
	}
	if status, ok := e.Fields["status"].(string); ok {
		report.Status = status
	}
	if ota, ok := e.Fields["ota_update"].(string); ok {
		report.OTAUpdate = &ota
	}
	return report
}

// Command returns the command string of a command message, empty when
// absent.
func (e *Envelope) Command() string {
	cmd, _ := e.Fields["command"].(string)
	return cmd
}

// ConnectionConfig extracts the broker parameters of a test_connection
// message. Returns ErrMissingBrokerConfig when the config object or its
// broker address is absent.
func (e *Envelope) ConnectionConfig() (mqtt.BrokerConfig, error) {
	raw, ok := e.Fields["config"].(map[string]interface{})
	if !ok {
		return mqtt.BrokerConfig{}, ErrMissingBrokerConfig
	}
	cfg := mqtt.BrokerConfig{}
	if broker, ok := raw["broker"].(string); ok {
		cfg.Broker = broker
	}
	if cfg.Broker == "" {
		return mqtt.BrokerConfig{}, ErrMissingBrokerConfig
	}
	if username, ok := raw["username"].(string); ok {
		cfg.Username = username
	}
	if password, ok := raw["password"].(string); ok {
		cfg.Password = password
	}
	if clientID, ok := raw["client_id"].(string); ok {
		cfg.ClientID = clientID
	}
	return cfg, nil
}

// JSON numbers always decode to float64 through the generic map, so a
// single type assertion covers every numeric wire value.

func (e *Envelope) floatField(key string) *float64 {
	if f, ok := e.Fields[key].(float64); ok {
		return &f
	}
	return nil
}

func (e *Envelope) intField(key string) *int {
	if f, ok := e.Fields[key].(float64); ok {
		i := int(f)
		return &i
	}
	return nil
}

func (e *Envelope) int64Field(key string) *int64 {
	if f, ok := e.Fields[key].(float64); ok {
		i := int64(f)
		return &i
	}
	return nil
}
