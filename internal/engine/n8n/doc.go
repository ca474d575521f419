// Package n8n is the HTTP client for the remote workflow engine.
//
// The engine exposes its public REST API under a base URL such as
// http://localhost:5678/api/v1. The client covers the calls Divert makes:
//
//   - Probe: liveness check before an execution is recorded
//   - ListWorkflows, GetWorkflow
//   - CreateWorkflow: install a catalog workflow or a personalised clone
//   - Execute: run a workflow by its engine id
//   - Activate, Deactivate, DeleteWorkflow
//
// Authentication uses the X-N8N-API-KEY header, HTTP basic auth, or both,
// depending on which credentials are configured.
//
// Errors:
//   - Transport failures wrap ErrUnreachable
//   - Unexpected status codes return *StatusError carrying the response body
package n8n
