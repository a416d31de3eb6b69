// Package device provides the device registry and telemetry persistence
// for the core.
//
// # Key Types
//
//   - Device: canonical registry entry for a telemetry source
//   - SensorReading: one persisted measurement (lifted scalars + JSON document)
//   - StatusRecord: one row of best-effort status history
//   - WritePolicy: injected write authorisation hook
//
// # Write Semantics
//
// The ingest pipeline treats the three stores differently:
//
//   - sensor_readings insert and devices update are primary writes;
//     failure aborts the request
//   - device_status_history append is best-effort; failure is logged
//     as a warning and the request still succeeds
//
// Devices are auto-created only on the MQTT ingress path, where unknown
// hardware announces itself. On the HTTP path an update of a missing
// device fails with ErrDeviceNotFound.
package device
