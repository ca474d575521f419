package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event. It doubles as the pub/sub topic and the websocket
// channel.
type Type string

const (
	ExecutionStarted   Type = "execution.started"
	ExecutionCompleted Type = "execution.completed"
	DiscoverySynced    Type = "discovery.synced"
)

// AllTypes lists every event type.
var AllTypes = []Type{ExecutionStarted, ExecutionCompleted, DiscoverySynced}

// Event is one lifecycle notification. Data holds the JSON encoding of an
// ExecutionData or SyncData value.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	UserID    string          `json:"user_id,omitempty"` // empty = broadcast
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ExecutionData describes one execution transition.
type ExecutionData struct {
	ExecutionID       string `json:"execution_id"`
	Kind              string `json:"kind"`
	DefinitionID      string `json:"definition_id"`
	InstanceID        string `json:"instance_id,omitempty"`
	Status            string `json:"status"`
	EngineExecutionID string `json:"engine_execution_id,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	DurationMS        int64  `json:"duration_ms,omitempty"`
}

// StageCounts mirrors one reconciliation result.
type StageCounts struct {
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Total    int `json:"total"`
	Warnings int `json:"warnings"`
}

// SyncData describes a completed discovery pass.
type SyncData struct {
	Teams      StageCounts `json:"teams"`
	Workflows  StageCounts `json:"workflows"`
	Errors     []string    `json:"errors,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// New builds an event with a fresh ID and the current time.
func New(t Type, userID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encoding %s event: %w", t, err)
	}
	return Event{
		ID:        "evt-" + uuid.NewString(),
		Type:      t,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Execution decodes the payload of an execution event.
func (e Event) Execution() (ExecutionData, error) {
	var d ExecutionData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("decoding execution data: %w", err)
	}
	return d, nil
}

// Sync decodes the payload of a discovery event.
func (e Event) Sync() (SyncData, error) {
	var d SyncData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("decoding sync data: %w", err)
	}
	return d, nil
}
