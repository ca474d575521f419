// Package api implements the HTTP REST API and WebSocket server for Divert Core.
//
// This package provides:
//   - Public catalog (store) endpoints and account registration/login
//   - Subscription management, runs and execution history for signed-in users
//   - Workflow template cloning and third-party integration setup
//   - Admin endpoints for catalog sync, audit trail, metrics and users
//   - WebSocket hub pushing execution and sync events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// Protected routes require an "Authorization: Bearer" access token issued by
// POST /auth/login. Role permissions are checked per route group. The
// WebSocket upgrade takes the same token as the token query parameter.
//
// # Errors
//
// Domain errors are mapped onto HTTP statuses in one place (writeServiceError):
// not found 404, conflicts 409, missing credentials and validation 400,
// engine unavailable 503, everything else 500.
package api
