// Package ingest normalises and routes inbound device messages.
//
// Messages arrive as JSON objects carrying a type discriminant and are
// decoded into an Envelope: typed accessors for the known fields plus
// an open extension map for everything else, so device-specific
// telemetry passes through opaquely. The Router dispatches each
// envelope down its branch pipeline:
//
//	sensor_data     validate -> persist reading -> mirror -> broadcast -> forward
//	device_status   validate -> update registry -> append history (best-effort) -> broadcast -> forward
//	command         validate -> publish to the device's command topic
//	test_connection validate -> bounded broker connection test
//
// Failure semantics are deliberate and asymmetric. The primary write of
// a branch (the reading insert, the registry update) is fatal to the
// request when it fails. Everything downstream of it (history append,
// telemetry mirror, realtime broadcast, secondary-protocol forwarding)
// is best-effort: failures are logged and surfaced on the operator live
// log channel, and the request still succeeds.
//
// Device identity is resolved by ResolveDeviceID: the payload's
// device_id wins, otherwise the id segment of the source topic. The
// MQTT ingress path auto-creates skeleton registry rows for unknown
// devices and accepts typeless firmware payloads, inferring the
// message type from the topic's kind segment; the HTTP path does
// neither. Bridge-ingested messages are also never forwarded to the
// secondary broker, which subscribes to the same device topics the
// forwarder publishes into.
package ingest
