package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/divert-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Public catalog. A bearer token, when present, adds the caller's
		// credential status to detail responses.
		r.Route("/store", func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware)
			r.Get("/automations", s.handleListAutomations)
			r.Get("/teams/{id}", s.handleGetTeam)
			r.Get("/workflows/{id}", s.handleGetWorkflow)
			r.Get("/categories", s.handleListCategories)
			r.Get("/stats", s.handleStoreStats)
		})

		r.Get("/integrations/templates", s.handleIntegrationTemplates)

		// WebSocket (auth via token query parameter, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)

			r.Route("/my-teams", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermAutomationManage))
				r.Get("/", s.handleListMyTeams)
				r.Post("/", s.handleAddMyTeam)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetMyTeam)
					r.Put("/", s.handleRenameMyTeam)
					r.Patch("/", s.handleSetMyTeamActive)
					r.Delete("/", s.handleRemoveMyTeam)
					r.With(s.requirePermission(auth.PermAutomationRun)).Post("/run", s.handleRunMyTeam)
					r.With(s.requirePermission(auth.PermWorkflowClone)).Delete("/clone", s.handleDeleteClone)
				})
			})

			r.Route("/executions", func(r chi.Router) {
				r.Get("/", s.handleListExecutions)
				r.Get("/{id}", s.handleGetExecution)
			})

			r.Route("/workflows", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermAutomationRun)).Post("/{id}/execute", s.handleExecuteWorkflow)
				r.Get("/templates", s.handleListTemplates)
				r.With(s.requirePermission(auth.PermWorkflowClone)).Post("/templates/{name}/clone", s.handleCloneTemplate)
			})

			r.Route("/integrations", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCredentialManage))
				r.Get("/", s.handleListIntegrations)
				r.Post("/configure", s.handleConfigureIntegration)
				r.Post("/{service}/test", s.handleTestIntegration)
				r.Delete("/{service}", s.handleRemoveIntegration)
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermCatalogSync)).Post("/sync", s.handleSync)
				r.With(s.requirePermission(auth.PermCatalogSync)).Get("/sync", s.handleLastSync)

				r.With(s.requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAuditLogs)
				r.With(s.requirePermission(auth.PermAuditRead)).Get("/metrics", s.handleMetrics)

				r.Group(func(r chi.Router) {
					r.Use(s.requirePermission(auth.PermUserManage))
					r.Get("/users", s.handleListUsers)
					r.Patch("/users/{id}", s.handleUpdateUser)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
