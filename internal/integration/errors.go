package integration

import (
	"errors"
	"strings"
)

// Domain errors for the integration package.
var (
	// ErrUnsupportedService is returned for a service with no template.
	ErrUnsupportedService = errors.New("integration: unsupported service")

	// ErrMissingFields is matched by *MissingFieldsError.
	ErrMissingFields = errors.New("integration: missing required fields")

	// ErrProbeFailed is returned when a live credential probe cannot reach the service.
	ErrProbeFailed = errors.New("integration: probe failed")

	// ErrNotConfigured is returned when testing or removing a service the
	// user never configured.
	ErrNotConfigured = errors.New("integration: not configured")
)

// MissingFieldsError lists the required credential fields that were not supplied.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "integration: missing required fields: " + strings.Join(e.Fields, ", ")
}

// Is makes errors.Is(err, ErrMissingFields) match.
func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}
