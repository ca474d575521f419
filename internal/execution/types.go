package execution

import (
	"time"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is success or failed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Record is one run of a definition.
type Record struct {
	ID                string         `json:"id"`
	Kind              catalog.Kind   `json:"kind"`
	DefinitionID      string         `json:"definition_id"`
	InstanceID        string         `json:"instance_id,omitempty"`
	UserID            string         `json:"user_id"`
	Inputs            map[string]any `json:"inputs"`
	Status            Status         `json:"status"`
	Outputs           any            `json:"outputs,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	EngineExecutionID string         `json:"engine_execution_id,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// Duration returns the run time of a completed record, or zero.
func (r *Record) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Filter narrows List. UserID is required.
type Filter struct {
	UserID       string
	InstanceID   string
	DefinitionID string
	Status       Status
	Limit        int
	Offset       int
}

// List limits.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)
