package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/divert-core/internal/audit"
)

// auditLog records an API-triggered action (best-effort). The trail logs
// its own write failures; a nil trail records nothing.
func (s *Server) auditLog(r *http.Request, action, entityType, entityID, userID string, details map[string]any) {
	s.trail.Record(r.Context(), audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action type (sync, clone, clone_delete, credential_configure, ...)
//   - entity_type: filter by entity type (catalog, workflow, credential, user, instance)
//   - entity_id: filter by specific entity ID
//   - user_id: filter by acting user
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	filter.Limit, filter.Offset = pageParams(r)

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// pageParams reads the limit and offset query parameters. Unparseable
// values are ignored and the repositories apply their defaults and caps.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
