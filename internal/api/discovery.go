package api

import (
	"net/http"
)

// handleSync runs a catalog sync pass and returns its summary. Partial
// failures are reported in the summary's errors, not as an HTTP error.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "catalog discovery not configured")
		return
	}

	summary := s.coordinator.SyncAll(r.Context())
	s.logger.Info("catalog sync requested",
		"user_id", userID(r),
		"ok", summary.OK(),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": summary.OK(),
		"results": summary,
	})
}

// handleLastSync returns the most recent sync summary.
func (s *Server) handleLastSync(w http.ResponseWriter, _ *http.Request) {
	if s.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "catalog discovery not configured")
		return
	}

	last := s.coordinator.Last()
	if last == nil {
		writeNotFound(w, "no sync has run yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}
