package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/execution"
)

// ─── Request Types ─────────────────────────────────────────────────

type addInstanceRequest struct {
	Kind         catalog.Kind `json:"kind"`
	DefinitionID string       `json:"definition_id"`
	Name         string       `json:"name,omitempty"`
}

type renameInstanceRequest struct {
	Name string `json:"name"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type runRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListMyTeams returns the caller's subscriptions with their definitions.
func (s *Server) handleListMyTeams(w http.ResponseWriter, r *http.Request) {
	subs, err := s.instances.ListDetailed(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": subs,
		"count":     len(subs),
	})
}

// handleAddMyTeam subscribes the caller to a catalog definition.
func (s *Server) handleAddMyTeam(w http.ResponseWriter, r *http.Request) {
	var req addInstanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DefinitionID == "" {
		writeBadRequest(w, "definition_id is required")
		return
	}

	uid := userID(r)
	inst, err := s.instances.Add(r.Context(), uid, req.Kind, req.DefinitionID, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionInstanceSubscribe, "instance", inst.ID, uid, map[string]any{
		"kind":          string(inst.Kind),
		"definition_id": inst.DefinitionID,
	})
	writeJSON(w, http.StatusCreated, inst)
}

// handleGetMyTeam returns one owned subscription with its definition.
func (s *Server) handleGetMyTeam(w http.ResponseWriter, r *http.Request) {
	sub, err := s.instances.Detail(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// handleRenameMyTeam changes a subscription's display name.
func (s *Server) handleRenameMyTeam(w http.ResponseWriter, r *http.Request) {
	var req renameInstanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	inst, err := s.instances.Rename(r.Context(), userID(r), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleSetMyTeamActive activates or deactivates a subscription. Workflow
// subscriptions are toggled on the remote engine first.
func (s *Server) handleSetMyTeamActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Active == nil {
		writeBadRequest(w, "active is required")
		return
	}

	inst, err := s.orchestrator.SetActive(r.Context(), userID(r), chi.URLParam(r, "id"), *req.Active)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleRemoveMyTeam unsubscribes. Execution history is kept.
func (s *Server) handleRemoveMyTeam(w http.ResponseWriter, r *http.Request) {
	if err := s.instances.Remove(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunMyTeam runs an owned subscription with the request inputs.
func (s *Server) handleRunMyTeam(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.orchestrator.RunInstance(r.Context(), userID(r), chi.URLParam(r, "id"), req.Inputs)
	s.writeRunResult(w, r, rec, err)
}

// handleDeleteClone removes a cloned workflow from the engine and the
// registry together with its history.
func (s *Server) handleDeleteClone(w http.ResponseWriter, r *http.Request) {
	if s.clones == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, "workflow cloning is not configured")
		return
	}
	if err := s.clones.Delete(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeRunResult answers a run request. A run the engine reported as failed
// is an error response carrying the closed record.
func (s *Server) writeRunResult(w http.ResponseWriter, r *http.Request, rec *execution.Record, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rec.Status == execution.StatusFailed {
		writeErrorDetails(w, http.StatusInternalServerError, ErrCodeExecutionFailed, "automation reported a failure",
			map[string]any{"execution_id": rec.ID, "execution": rec})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
