package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/divert-core/internal/auth"
	"github.com/nerrad567/divert-core/internal/clone"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/execution"
	"github.com/nerrad567/divert-core/internal/integration"
	"github.com/nerrad567/divert-core/internal/registry"
	"github.com/nerrad567/divert-core/internal/vault"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeConflict           = "conflict"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeMissingCredentials = "missing_credentials"
	ErrCodeEngineUnavailable  = "engine_unavailable"
	ErrCodeExecutionFailed    = "execution_failed"
	ErrCodeCredentialCorrupt  = "credential_corrupt"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorDetails(w, status, code, message, nil)
}

// writeErrorDetails writes a structured error response carrying extra data.
func writeErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps a domain error to its HTTP status and writes it.
// Unknown errors are logged and hidden behind a generic 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missingCreds  *execution.MissingCredentialsError
		missingFields *integration.MissingFieldsError
		failed        *execution.FailedError
		engineStatus  *n8n.StatusError
	)

	switch {
	case errors.As(err, &missingCreds):
		writeErrorDetails(w, http.StatusBadRequest, ErrCodeMissingCredentials, err.Error(),
			map[string]any{"services": missingCreds.Services})

	case errors.As(err, &missingFields):
		writeErrorDetails(w, http.StatusBadRequest, ErrCodeValidation, err.Error(),
			map[string]any{"fields": missingFields.Fields})

	case errors.As(err, &failed):
		writeErrorDetails(w, http.StatusInternalServerError, ErrCodeExecutionFailed, failed.Err.Error(),
			map[string]any{"execution_id": failed.ExecutionID})

	case errors.As(err, &engineStatus):
		// The engine answered but refused; its body explains why.
		writeErrorDetails(w, http.StatusInternalServerError, ErrCodeExecutionFailed, err.Error(),
			map[string]any{"engine_status": engineStatus.Code, "engine_response": engineStatus.Body})

	case isAny(err,
		registry.ErrDefinitionNotFound,
		registry.ErrDefinitionInactive,
		registry.ErrInstanceNotFound,
		execution.ErrNotFound,
		clone.ErrTemplateNotFound,
		integration.ErrNotConfigured,
		auth.ErrUserNotFound,
	):
		writeNotFound(w, err.Error())

	case isAny(err,
		registry.ErrAlreadySubscribed,
		registry.ErrDefinitionExists,
		clone.ErrAlreadyCloned,
		execution.ErrAlreadyTerminal,
		auth.ErrUsernameExists,
		auth.ErrEmailExists,
	):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())

	case isAny(err,
		registry.ErrInvalidKind,
		registry.ErrInvalidName,
		clone.ErrNotClone,
		execution.ErrInvalidStatus,
		integration.ErrUnsupportedService,
		vault.ErrInvalidKind,
		auth.ErrInvalidUsername,
		auth.ErrInvalidEmail,
		auth.ErrWeakPassword,
	):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())

	case isAny(err, auth.ErrInvalidCredentials, auth.ErrTokenInvalid):
		writeUnauthorized(w, err.Error())

	case isAny(err, auth.ErrUserInactive, auth.ErrForbidden):
		writeForbidden(w, err.Error())

	case errors.Is(err, execution.ErrEngineUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeEngineUnavailable, err.Error())

	case errors.Is(err, vault.ErrCredentialCorrupt):
		s.logger.Error("stored credential failed integrity check",
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusInternalServerError, ErrCodeCredentialCorrupt, "stored credentials are unreadable; configure them again")

	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}

func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
