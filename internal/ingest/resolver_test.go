package ingest

import (
	"errors"
	"testing"
)

func TestResolveDeviceID(t *testing.T) {
	tests := []struct {
		name      string
		payloadID string
		topic     string
		want      string
		wantErr   bool
	}{
		{"payload id wins", "d1", "iot/devices/ABC-123/status", "d1", false},
		{"topic id when payload empty", "", "iot/devices/ABC-123/status", "ABC-123", false},
		{"topic id on data topic", "", "iot/devices/esp32-07/data", "esp32-07", false},
		{"payload whitespace falls back to topic", "   ", "iot/devices/d2/status", "d2", false},
		{"placeholder falls back to topic", "unknown-device", "iot/devices/d3/status", "d3", false},
		{"both empty", "", "", "", true},
		{"topic too short", "", "iot/devices", "", true},
		{"topic wildcard segment", "", "iot/devices/+/status", "", true},
		{"topic hash segment", "", "iot/devices/#/status", "", true},
		{"placeholder in topic", "", "iot/devices/unknown-device/status", "", true},
		{"payload with separator", "a/b", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDeviceID(tt.payloadID, tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingDeviceID) {
					t.Fatalf("ResolveDeviceID() error = %v, want ErrMissingDeviceID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveDeviceID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveDeviceID() = %q, want %q", got, tt.want)
			}
		})
	}
}
