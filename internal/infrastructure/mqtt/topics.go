package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "divert"

// Topics builds Divert MQTT topics under a prefix.
//
//	topics := mqtt.NewTopics("divert")
//	topics.Execution("exec-1", "success") // "divert/executions/exec-1/success"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder. Surrounding slashes are trimmed and an
// empty prefix falls back to DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	return t.prefix
}

// Execution returns the topic for an execution lifecycle transition.
//
// Example: divert/executions/exec-3f2a/running
func (t Topics) Execution(executionID, status string) string {
	return fmt.Sprintf("%s/executions/%s/%s", t.prefix, executionID, status)
}

// Event returns the topic for a named event that is not execution-scoped,
// with dots mapped to levels.
//
// Example: discovery.synced → divert/discovery/synced
func (t Topics) Event(eventType string) string {
	return t.prefix + "/" + strings.ReplaceAll(eventType, ".", "/")
}

// SystemStatus returns the retained Core status topic (online/offline).
//
// Example: divert/system/status
func (t Topics) SystemStatus() string {
	return t.prefix + "/system/status"
}

// AllExecutions returns a subscription filter for every execution topic.
//
// Example: divert/executions/#
func (t Topics) AllExecutions() string {
	return t.prefix + "/executions/#"
}
