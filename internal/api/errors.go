package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/astrodev/telemetry-core/internal/device"
	"github.com/astrodev/telemetry-core/internal/infrastructure/mqtt"
	"github.com/astrodev/telemetry-core/internal/ingest"
)

// Error represents a structured error response. The message travels
// under the "error" key, which is what firmware and the dashboard
// already expect.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeTimeout    = "connection_timeout"
	ErrCodeInternal   = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeIngestError maps an ingest pipeline failure onto the response.
//
// Validation failures (unroutable type, unresolvable device, malformed
// broker URL, update of an unregistered device) are the client's fault
// and get 400. A broker connection timeout gets its own 408 so the
// settings screen can distinguish "wrong URL" from "broker down".
// Everything else is a server-side failure.
func writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrMalformedPayload),
		errors.Is(err, ingest.ErrUnknownMessageType),
		errors.Is(err, ingest.ErrMissingDeviceID),
		errors.Is(err, ingest.ErrMissingStatus),
		errors.Is(err, ingest.ErrMissingCommand),
		errors.Is(err, ingest.ErrMissingBrokerConfig),
		errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, mqtt.ErrInvalidBrokerURL):
		writeBadRequest(w, err.Error())
	case errors.Is(err, mqtt.ErrConnectTimeout):
		writeError(w, http.StatusRequestTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
