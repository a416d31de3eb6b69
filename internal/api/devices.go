package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/astrodev/telemetry-core/internal/device"
)

// Read-only registry views. Registration and administration screens
// talk to the store directly; these endpoints exist for operational
// inspection of the data this core writes.

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("failed to get device", "device_id", id, "error", err)
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	readings, err := s.readings.ListByDevice(r.Context(), id, queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list readings", "device_id", id, "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  readings,
		"count":     len(readings),
	})
}

func (s *Server) handleListStatusHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	history, err := s.history.GetHistory(r.Context(), id, queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list status history", "device_id", id, "error", err)
		writeInternalError(w, "failed to list status history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   history,
		"count":     len(history),
	})
}

// queryLimit parses the optional ?limit= parameter. Zero means the
// repository default; the repository also enforces the upper bound.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
