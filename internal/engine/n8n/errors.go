package n8n

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable indicates the engine could not be contacted at all.
	ErrUnreachable = errors.New("n8n: engine unreachable")

	// ErrNotConfigured is returned when no engine URL is configured.
	ErrNotConfigured = errors.New("n8n: engine url not configured")

	// ErrInvalidResponse indicates a success status with a body the client
	// could not decode.
	ErrInvalidResponse = errors.New("n8n: invalid response")
)

// maxErrorBody bounds how much of a failing response body is kept.
const maxErrorBody = 4096

// StatusError is returned when the engine answers with an unexpected
// HTTP status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("n8n: %s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("n8n: %s: HTTP %d: %s", e.Op, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the engine.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
