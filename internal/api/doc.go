// Package api implements the HTTP and WebSocket server for the telemetry core.
//
// This package provides:
//   - POST /api/v1/bridge, the single message-typed ingestion endpoint
//   - GET/PUT /api/v1/settings/protocols for the protocol settings singleton
//   - Read-only registry views (devices, readings, status history)
//   - WebSocket hub with subscription channels for real-time telemetry
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server sits between the outside world (device firmware, field
// gateways, browser dashboards) and the ingest pipeline. Everything
// that arrives on /bridge flows through the ingest router; the router's
// broadcasts come back out through the WebSocket hub's channels
// (sensor-updates, device-updates, bridge-log).
//
// # Security
//
// Authorization is delegated to the external policy layer in front of
// the data store; this server consumes allow/deny outcomes through the
// device package's write policy hook. CORS is wide open because the
// ingestion endpoint is called from firmware and browsers alike.
//
// # Graceful Degradation
//
// The server operates without a broker and without the telemetry
// mirror. Ingestion, settings, and WebSocket fan-out keep working; only
// connection tests and MQTT forwarding fail.
package api
