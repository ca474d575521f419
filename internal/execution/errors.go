package execution

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the execution package.
var (
	// ErrNotFound is returned when an execution does not exist or belongs
	// to another user.
	ErrNotFound = errors.New("execution: not found")

	// ErrAlreadyTerminal is returned when completing a record that already
	// left the running state.
	ErrAlreadyTerminal = errors.New("execution: already terminal")

	// ErrEngineUnavailable is returned when the remote engine does not
	// answer its liveness probe. No record is created.
	ErrEngineUnavailable = errors.New("execution: engine unavailable")

	// ErrMissingCredentials is matched by *MissingCredentialsError.
	ErrMissingCredentials = errors.New("execution: missing credentials")

	// ErrExecutionFailed is matched by *FailedError.
	ErrExecutionFailed = errors.New("execution: failed")

	// ErrInvalidStatus is returned for an unknown or non-terminal status.
	ErrInvalidStatus = errors.New("execution: invalid status")
)

// MissingCredentialsError lists the services the user still has to configure.
type MissingCredentialsError struct {
	Services []string
}

func (e *MissingCredentialsError) Error() string {
	return "execution: missing credentials for: " + strings.Join(e.Services, ", ")
}

// Is makes errors.Is(err, ErrMissingCredentials) match.
func (e *MissingCredentialsError) Is(target error) bool {
	return target == ErrMissingCredentials
}

// FailedError reports a run that reached the failed state because the
// engine call itself failed.
type FailedError struct {
	ExecutionID string
	Err         error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("execution %s failed: %v", e.ExecutionID, e.Err)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExecutionFailed) match.
func (e *FailedError) Is(target error) bool {
	return target == ErrExecutionFailed
}
