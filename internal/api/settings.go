package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/astrodev/telemetry-core/internal/settings"
)

// handleGetProtocolSettings returns the stored protocol settings
// document. A not-yet-initialised row reads as an empty document rather
// than an error; the migration seeds the row, but a hand-built database
// should still work.
func (s *Server) handleGetProtocolSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := s.settings.Get(r.Context())
	if err != nil {
		if errors.Is(err, settings.ErrNotInitialised) {
			writeJSON(w, http.StatusOK, &settings.Settings{})
			return
		}
		s.logger.Error("failed to read protocol settings", "error", err)
		writeInternalError(w, "failed to read protocol settings")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// handlePutProtocolSettings replaces the protocol settings document
// wholesale. Last writer wins; there is no merging and no optimistic
// concurrency, matching how the settings screen has always behaved.
func (s *Server) handlePutProtocolSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	var doc settings.Settings
	if err := json.Unmarshal(body, &doc); err != nil {
		writeBadRequest(w, "settings document is not a JSON object")
		return
	}

	if err := s.settings.Save(r.Context(), &doc); err != nil {
		s.logger.Error("failed to save protocol settings", "error", err)
		writeInternalError(w, "failed to save protocol settings")
		return
	}

	if _, diverged := doc.MQTT.Topics.CommandTopic(); diverged {
		s.logger.Warn("saved settings carry diverging command topic keys",
			"command", doc.MQTT.Topics.Command,
			"commands", doc.MQTT.Topics.Commands)
	}

	writeJSON(w, http.StatusOK, &doc)
}
