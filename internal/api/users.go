package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/auth"
)

type updateUserRequest struct {
	DisplayName *string    `json:"display_name,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Role        *auth.Role `json:"role,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.Users().List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleUpdateUser modifies a user's mutable fields.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) { //nolint:gocognit,gocyclo // user update: field patching + self-protection guards
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())

	var req updateUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.auth.Users().GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Self-protection: cannot deactivate yourself
	if req.IsActive != nil && !*req.IsActive && id == claims.Subject {
		writeForbidden(w, "cannot deactivate your own account")
		return
	}

	// Self-protection: cannot demote yourself
	if req.Role != nil && id == claims.Subject && *req.Role != claims.Role {
		writeForbidden(w, "cannot change your own role")
		return
	}

	if req.Role != nil && !auth.IsValidRole(*req.Role) {
		writeBadRequest(w, "invalid role: must be user or admin")
		return
	}

	// Apply patches
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeBadRequest(w, "display_name cannot be empty")
			return
		}
		user.DisplayName = name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if !auth.IsValidEmail(email) {
			s.writeServiceError(w, r, auth.ErrInvalidEmail)
			return
		}
		user.Email = email
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.auth.Users().Update(r.Context(), user); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("user updated", "user_id", id, "updated_by", claims.Subject)
	s.auditLog(r, audit.ActionUserUpdate, "user", id, claims.Subject, map[string]any{
		"role":      string(user.Role),
		"is_active": user.IsActive,
	})

	writeJSON(w, http.StatusOK, user)
}
