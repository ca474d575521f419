package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/clone"
)

type cloneRequest struct {
	Credentials clone.CredentialMap `json:"credentials"`
}

// handleExecuteWorkflow runs a workflow definition directly, without a
// subscription.
func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.orchestrator.RunDefinition(r.Context(), userID(r), catalog.KindWorkflow, chi.URLParam(r, "id"), req.Inputs)
	s.writeRunResult(w, r, rec, err)
}

// handleListTemplates returns the workflow templates that can be cloned.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if s.clones == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, "workflow cloning is not configured")
		return
	}
	templates, err := s.clones.Templates(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// handleCloneTemplate creates the caller's personal copy of a template.
//
// The body maps each required service to the engine's credential id:
//
//	{"credentials": {"gmail": "12", "google_drive": 13}}
func (s *Server) handleCloneTemplate(w http.ResponseWriter, r *http.Request) {
	if s.clones == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, "workflow cloning is not configured")
		return
	}

	var req cloneRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Credentials == nil {
		req.Credentials = clone.CredentialMap{}
	}

	result, err := s.clones.Clone(r.Context(), userID(r), chi.URLParam(r, "name"), req.Credentials)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
