package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrMissingDeviceID is returned when an operation requires a device
	// identifier and none was given.
	ErrMissingDeviceID = errors.New("device: id is required")

	// ErrWriteDenied is returned when the write policy rejects an insert.
	ErrWriteDenied = errors.New("device: write denied by policy")
)
