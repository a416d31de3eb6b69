// Package mqtt provides broker connectivity for the telemetry core.
//
// This package manages:
//   - Bounded, exactly-once-resolving connection attempts
//   - Explicit session objects with tracked subscriptions
//   - One-shot publishes for secondary-protocol forwarding
//   - Preflight broker URL validation (no network I/O on bad input)
//
// # Architecture
//
// The Manager owns at most one live Session per logical role: the
// operator test slot and the persistent bridge slot. Establishing a new
// session disposes the prior handle first, so two sequential test
// connections always leave exactly one live handle.
//
// Every connect is an Attempt that resolves exactly once. Only the
// first of success, failure, or timeout produces the visible result; a
// broker success arriving after the timeout fired is discarded and the
// socket is killed.
//
// # Usage
//
//	manager := mqtt.NewManager(logger)
//
//	// Operator test: bounded to 10 seconds, leaves no live handle
//	err := manager.Test(mqtt.BrokerConfig{Broker: "mqtt://broker:1883"})
//
//	// Persistent bridge: bounded to 30 seconds, then subscribe
//	session, err := manager.Connect(mqtt.RoleBridge, cfg, true)
//	if err == nil {
//	    session.Subscribe("iot/devices/+/data", handleData)
//	}
//
// # Error Handling
//
// Sentinel errors (ErrInvalidBrokerURL, ErrConnectTimeout, and friends)
// are checkable with errors.Is and map onto the HTTP error taxonomy in
// the api package.
package mqtt
