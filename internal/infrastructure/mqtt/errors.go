package mqtt

import "errors"

// Domain-specific errors for broker operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidBrokerURL is returned when the broker address fails
	// preflight validation (bad scheme, missing host or port).
	ErrInvalidBrokerURL = errors.New("mqtt: invalid broker URL")

	// ErrConnectTimeout is returned when a connection attempt neither
	// succeeds nor fails within its bound.
	ErrConnectTimeout = errors.New("mqtt: connection attempt timed out")

	// ErrConnectionFailed is returned when the broker rejects the
	// connection (authentication or network failure).
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when attempting operations on a
	// session that is not connected.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrSessionClosed is returned when operating on a session that has
	// been disposed.
	ErrSessionClosed = errors.New("mqtt: session closed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
