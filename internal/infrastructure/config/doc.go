// Package config loads and validates telemetry core configuration.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// TELEMETRY_* environment variable overrides. The loaded Config is
// immutable after Load() returns; components receive the sections they
// need by value.
//
// Note that the bridge and forwarding settings here are only fallbacks:
// the operational protocol settings (broker, credentials, topic
// templates, per-protocol enable flags) live in the protocol_settings
// database row and are re-read on every request.
package config
