package ingest

import "errors"

var (
	// ErrMalformedPayload is returned when an inbound message body is
	// not a JSON object.
	ErrMalformedPayload = errors.New("ingest: malformed JSON payload")

	// ErrUnknownMessageType is returned when the type discriminant is
	// missing or not one of the routed message types.
	ErrUnknownMessageType = errors.New("ingest: unknown message type")

	// ErrMissingDeviceID is returned when neither the payload nor the
	// topic yields a usable device identifier.
	ErrMissingDeviceID = errors.New("ingest: device id could not be resolved")

	// ErrMissingStatus is returned when a device_status message carries
	// no status string.
	ErrMissingStatus = errors.New("ingest: status is required")

	// ErrMissingCommand is returned when a command message carries no
	// command string.
	ErrMissingCommand = errors.New("ingest: command is required")

	// ErrMissingBrokerConfig is returned when a test_connection message
	// carries no config.broker value.
	ErrMissingBrokerConfig = errors.New("ingest: connection config with broker is required")
)
