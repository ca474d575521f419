package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login. Username may also
// be the account's email address.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// meResponse is the response body for GET /auth/me.
type meResponse struct {
	User        *auth.User        `json:"user"`
	Permissions []auth.Permission `json:"permissions"`
}

// handleRegister creates a user account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" || req.Email == "" {
		writeBadRequest(w, "username, email and password are required")
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.auditLog(r, audit.ActionUserRegister, "user", user.ID, user.ID, map[string]any{
		"username": user.Username,
	})
	writeJSON(w, http.StatusCreated, user)
}

// handleLogin authenticates a user and returns a JWT access token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	resp, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMe returns the authenticated user's account and permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Users().GetByID(r.Context(), userID(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !user.IsActive {
		s.writeServiceError(w, r, auth.ErrUserInactive)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:        user,
		Permissions: auth.PermissionsForRole(user.Role),
	})
}
