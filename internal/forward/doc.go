// Package forward pushes accepted telemetry to secondary protocols.
//
// Two secondaries exist: a black-box sync service invoked by reference
// over HTTP, and a secondary MQTT broker reached through short-lived
// connect-publish-disconnect sessions. Which secondaries run, and
// where, is governed by the stored protocol settings, read fresh on
// every request so operator changes apply immediately.
//
// Telemetry forwarding is strictly best-effort. A dead sync service or
// unreachable broker produces warning logs and operator live log
// entries, never a failed ingest request. Command delivery is the one
// exception: the command topic publish is the only delivery path for a
// command, so its failure is returned to the caller.
package forward
