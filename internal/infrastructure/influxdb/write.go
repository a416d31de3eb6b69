package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading mirrors a sensor reading to InfluxDB.
//
// Every numeric field from the reading payload becomes an InfluxDB field
// on a single "sensor_readings" point tagged with the device identifier.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "esp32-greenhouse-01")
//   - fields: Numeric reading values keyed by name (e.g., "temperature": 21.5)
//   - recordedAt: Timestamp of the reading
func (c *Client) WriteSensorReading(deviceID string, fields map[string]float64, recordedAt time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	pointFields := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		pointFields[name] = value
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"device_id": deviceID,
		},
		pointFields,
		recordedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus mirrors a device status report to InfluxDB.
//
// Used for tracking fleet health over time: battery curves, signal
// strength, heap usage, and uptime.
//
// Parameters:
//   - deviceID: Device identifier
//   - status: Reported status string (e.g., "online")
//   - metrics: Numeric health values keyed by name (e.g., "battery": 87)
func (c *Client) WriteDeviceStatus(deviceID string, status string, metrics map[string]float64) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{}, len(metrics)+1)
	for name, value := range metrics {
		fields[name] = value
	}
	// Status is a field rather than a tag to keep series cardinality down.
	fields["status"] = status

	point := write.NewPoint(
		"device_status",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
