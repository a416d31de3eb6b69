package device

import "time"

// Device status values reported by firmware.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultDeviceType is assigned to auto-created devices until an
// operator classifies them.
const DefaultDeviceType = "sensor"

// Device is the canonical registry entry for a telemetry source.
//
// Health fields (battery, signal, heap, uptime) are nullable because
// not every firmware reports them; a nil pointer means "not reported",
// which is distinct from zero.
type Device struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Battery   *float64   `json:"battery,omitempty"`
	WiFiRSSI  *int       `json:"wifi_rssi,omitempty"`
	Uptime    *int64     `json:"uptime,omitempty"`
	FreeHeap  *int64     `json:"free_heap,omitempty"`
	OTAUpdate string     `json:"ota_update,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StatusReport carries the health fields of an inbound device_status
// message. Nil pointers leave the stored value untouched.
type StatusReport struct {
	Status    string   `json:"status"`
	Battery   *float64 `json:"battery,omitempty"`
	WiFiRSSI  *int     `json:"wifi_rssi,omitempty"`
	Uptime    *int64   `json:"uptime,omitempty"`
	FreeHeap  *int64   `json:"free_heap,omitempty"`
	OTAUpdate *string  `json:"ota_update,omitempty"`
}

// SensorReading is one persisted measurement from a device.
//
// Well-known scalars (temperature, humidity, pressure, battery) are
// lifted into their own columns for cheap range queries. The Data
// document keeps the full original payload minus the type discriminant
// and device id, so device-specific fields with no dedicated column
// (rainfall, water level) are never lost.
type SensorReading struct {
	ID          string                 `json:"id"`
	DeviceID    string                 `json:"device_id"`
	Temperature *float64               `json:"temperature,omitempty"`
	Humidity    *float64               `json:"humidity,omitempty"`
	Pressure    *float64               `json:"pressure,omitempty"`
	Battery     *float64               `json:"battery,omitempty"`
	Data        map[string]interface{} `json:"sensor_data"`
	RecordedAt  time.Time              `json:"recorded_at"`
}

// StatusRecord is one row of device status history, appended
// best-effort on every device_status message.
type StatusRecord struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Status     string    `json:"status"`
	Battery    *float64  `json:"battery,omitempty"`
	WiFiRSSI   *int      `json:"wifi_rssi,omitempty"`
	Uptime     *int64    `json:"uptime,omitempty"`
	FreeHeap   *int64    `json:"free_heap,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
