package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/execution"
)

// handleListExecutions returns the caller's execution records, newest first.
//
// Query parameters:
//   - instance_id, definition_id: narrow to one subscription or definition
//   - status: running, success or failed
//   - limit (default 50, max 200), offset
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := execution.Filter{
		UserID:       userID(r),
		InstanceID:   q.Get("instance_id"),
		DefinitionID: q.Get("definition_id"),
		Status:       execution.Status(q.Get("status")),
	}
	filter.Limit, filter.Offset = pageParams(r)

	records, err := s.orchestrator.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": records,
		"count":      len(records),
	})
}

// handleGetExecution returns one of the caller's execution records.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orchestrator.Get(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
