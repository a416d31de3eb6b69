package api

import (
	"io"
	"net/http"
)

// handleBridge is the single ingestion entry point. The body is a
// message-typed JSON object; the ingest router dispatches it and the
// outcome maps straight onto the response.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	result, err := s.router.HandleHTTP(r.Context(), body)
	if err != nil {
		s.logger.Warn("bridge request rejected", "error", err,
			"request_id", r.Context().Value(ctxKeyRequestID))
		writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
