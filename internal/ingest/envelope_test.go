package ingest

import (
	"errors"
	"testing"
	"time"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"sensor data", `{"type":"sensor_data","device_id":"d1","temperature":25.5}`, nil},
		{"device status", `{"type":"device_status","device_id":"d1","status":"online"}`, nil},
		{"command", `{"type":"command","device_id":"d1","command":"restart"}`, nil},
		{"test connection", `{"type":"test_connection","config":{"broker":"mqtt://x:1883"}}`, nil},
		{"unknown type", `{"type":"firmware_upload","device_id":"d1"}`, ErrUnknownMessageType},
		{"missing type", `{"device_id":"d1"}`, ErrUnknownMessageType},
		{"numeric type", `{"type":42}`, ErrUnknownMessageType},
		{"not json", `sensor_data`, ErrMalformedPayload},
		{"json array", `[1,2,3]`, ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseEnvelope() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			if env == nil {
				t.Fatal("ParseEnvelope() returned nil envelope")
			}
		})
	}
}

func TestParseTopicEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  string
		wantType MessageType
		wantErr  error
	}{
		{"typeless data topic", "iot/devices/d1/data", `{"temperature":21.5}`, TypeSensorData, nil},
		{"typeless status topic", "iot/devices/d1/status", `{"status":"online","battery":64}`, TypeDeviceStatus, nil},
		{"explicit type wins over topic", "iot/devices/d1/data", `{"type":"device_status","status":"online"}`, TypeDeviceStatus, nil},
		{"unroutable kind segment", "iot/devices/d1/commands", `{"temperature":21.5}`, "", ErrUnknownMessageType},
		{"topic too short to infer", "devices/data", `{"temperature":21.5}`, "", ErrUnknownMessageType},
		{"malformed payload", "iot/devices/d1/data", `[1,2]`, "", ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseTopicEnvelope(tt.topic, []byte(tt.payload))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseTopicEnvelope() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopicEnvelope() error = %v", err)
			}
			if env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tt.wantType)
			}
			if env.Topic != tt.topic {
				t.Errorf("Topic = %q, want %q", env.Topic, tt.topic)
			}
		})
	}
}

func TestParseEnvelope_ExtractsDeviceID(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"sensor_data","device_id":"greenhouse-7","soil_moisture":0.4}`))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if env.DeviceID != "greenhouse-7" {
		t.Errorf("DeviceID = %q, want greenhouse-7", env.DeviceID)
	}
	if env.Type != TypeSensorData {
		t.Errorf("Type = %q, want sensor_data", env.Type)
	}
}

func TestBlob_ExcludesTypeAndDeviceID(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"sensor_data","device_id":"d1","temperature":25.5,"rainfall":3.2}`))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}

	blob := env.Blob()
	if _, ok := blob["type"]; ok {
		t.Error("blob retains the type discriminant")
	}
	if _, ok := blob["device_id"]; ok {
		t.Error("blob retains the device id")
	}
	if blob["temperature"] != 25.5 {
		t.Errorf("temperature = %v, want 25.5", blob["temperature"])
	}
	if blob["rainfall"] != 3.2 {
		t.Errorf("rainfall = %v, want 3.2", blob["rainfall"])
	}
}

func TestReading_LiftsKnownScalars(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"sensor_data","device_id":"d1","temperature":21.5,"humidity":48,"pressure":1013.2,"battery":76,"water_level":0.8}`))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}

	reading := env.Reading("d1", time.Now().UTC())
	if reading.Temperature == nil || *reading.Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", reading.Temperature)
	}
	if reading.Humidity == nil || *reading.Humidity != 48 {
		t.Errorf("Humidity = %v, want 48", reading.Humidity)
	}
	if reading.Pressure == nil || *reading.Pressure != 1013.2 {
		t.Errorf("Pressure = %v, want 1013.2", reading.Pressure)
	}
	if reading.Battery == nil || *reading.Battery != 76 {
		t.Errorf("Battery = %v, want 76", reading.Battery)
	}
	// The blob keeps lifted fields too; lifting copies, it does not move.
	if reading.Data["temperature"] != 21.5 {
		t.Errorf("blob temperature = %v, want 21.5", reading.Data["temperature"])
	}
	if reading.Data["water_level"] != 0.8 {
		t.Errorf("blob water_level = %v, want 0.8", reading.Data["water_level"])
	}
}

func TestStatusReport_SparseFieldsStayNil(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"device_status","device_id":"d1","status":"online","battery":80}`))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}

	report := env.StatusReport()
	if report.Status != "online" {
		t.Errorf("Status = %q, want online", report.Status)
	}
	if report.Battery == nil || *report.Battery != 80 {
		t.Errorf("Battery = %v, want 80", report.Battery)
	}
	if report.WiFiRSSI != nil || report.Uptime != nil || report.FreeHeap != nil || report.OTAUpdate != nil {
		t.Error("absent fields must stay nil")
	}
}

func TestStatusReport_OTAUpdateIsAString(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"type":"device_status","device_id":"d1","status":"online","ota_update":"1.4.2"}`))
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}

	report := env.StatusReport()
	if report.OTAUpdate == nil || *report.OTAUpdate != "1.4.2" {
		t.Errorf("OTAUpdate = %v, want 1.4.2", report.OTAUpdate)
	}
}

func TestConnectionConfig(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantBroker string
		wantErr    error
	}{
		{
			"full config",
			`{"type":"test_connection","config":{"broker":"mqtts://broker.local:8883","username":"ops","password":"s3cret"}}`,
			"mqtts://broker.local:8883",
			nil,
		},
		{"missing config", `{"type":"test_connection"}`, "", ErrMissingBrokerConfig},
		{"missing broker", `{"type":"test_connection","config":{"username":"ops"}}`, "", ErrMissingBrokerConfig},
		{"config not an object", `{"type":"test_connection","config":"mqtt://x"}`, "", ErrMissingBrokerConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseEnvelope() error = %v", err)
			}
			cfg, err := env.ConnectionConfig()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ConnectionConfig() error = %v, want %v", err, tt.wantErr)
			}
			if cfg.Broker != tt.wantBroker {
				t.Errorf("Broker = %q, want %q", cfg.Broker, tt.wantBroker)
			}
		})
	}
}
