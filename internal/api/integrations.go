package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/integration"
)

type configureIntegrationRequest struct {
	ServiceName string            `json:"service_name"`
	Credentials map[string]string `json:"credentials"`
}

// handleIntegrationTemplates lists the supported services and the fields
// each one needs.
func (s *Server) handleIntegrationTemplates(w http.ResponseWriter, _ *http.Request) {
	templates := integration.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": templates,
		"count":     len(templates),
	})
}

// handleListIntegrations returns every supported service with the caller's
// configuration state.
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	if s.integrations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "credential vault not configured")
		return
	}
	items, err := s.integrations.Overview(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": items,
		"count":        len(items),
	})
}

// handleConfigureIntegration tests and stores credentials for a service.
// Credentials that fail the live test are still stored, with status error.
func (s *Server) handleConfigureIntegration(w http.ResponseWriter, r *http.Request) {
	if s.integrations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "credential vault not configured")
		return
	}

	var req configureIntegrationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	service := strings.ToLower(strings.TrimSpace(req.ServiceName))
	if service == "" {
		writeBadRequest(w, "service_name is required")
		return
	}

	uid := userID(r)
	status, err := s.integrations.Configure(r.Context(), uid, service, req.Credentials)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionCredentialSet, "credential", service, uid, map[string]any{
		"status": string(status),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"service_name": service,
		"status":       status,
	})
}

// handleTestIntegration probes the stored credentials again.
func (s *Server) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	if s.integrations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "credential vault not configured")
		return
	}

	service := strings.ToLower(chi.URLParam(r, "service"))
	status, err := s.integrations.Retest(r.Context(), userID(r), service)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service_name": service,
		"status":       status,
	})
}

// handleRemoveIntegration deactivates the caller's credentials for a service.
func (s *Server) handleRemoveIntegration(w http.ResponseWriter, r *http.Request) {
	if s.integrations == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "credential vault not configured")
		return
	}

	uid := userID(r)
	service := strings.ToLower(chi.URLParam(r, "service"))
	if err := s.integrations.Remove(r.Context(), uid, service); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionCredentialRemove, "credential", service, uid, nil)
	w.WriteHeader(http.StatusNoContent)
}
