package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/divert-core/internal/infrastructure/mqtt"
)

// Broadcaster pushes a payload to websocket subscribers of a channel. An
// empty userID reaches every subscriber; otherwise only that user's
// connections.
type Broadcaster interface {
	BroadcastTo(userID, channel string, payload any)
}

// HubSink forwards events to websocket clients.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a sink over hub.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// Handle implements Sink.
func (s *HubSink) Handle(_ context.Context, event Event) error {
	var data any
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("decoding event data: %w", err)
	}
	s.hub.BroadcastTo(event.UserID, string(event.Type), map[string]any{
		"id":        event.ID,
		"timestamp": event.Timestamp,
		"data":      data,
	})
	return nil
}

// MQTTPublisher is the part of the MQTT client the export sink needs.
type MQTTPublisher interface {
	PublishJSON(topic string, v any) error
	Topics() mqtt.Topics
}

// MQTTSink exports events to the broker. Execution events go to
// <prefix>/executions/<id>/<status>; others to <prefix>/<type as path>.
type MQTTSink struct {
	client MQTTPublisher
}

// NewMQTTSink creates a sink over client.
func NewMQTTSink(client MQTTPublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

// Handle implements Sink.
func (s *MQTTSink) Handle(_ context.Context, event Event) error {
	topics := s.client.Topics()
	topic := topics.Event(string(event.Type))

	if event.Type == ExecutionStarted || event.Type == ExecutionCompleted {
		data, err := event.Execution()
		if err != nil {
			return err
		}
		topic = topics.Execution(data.ExecutionID, data.Status)
	}
	return s.client.PublishJSON(topic, event)
}

// MetricsWriter is the part of the InfluxDB client the metrics sink needs.
type MetricsWriter interface {
	WriteExecution(kind, status, definitionID string, duration time.Duration)
	WriteCatalogSync(kind string, added, updated, total, warnings int)
}

// MetricsSink records completed executions and discovery passes.
type MetricsSink struct {
	writer MetricsWriter
}

// NewMetricsSink creates a sink over writer.
func NewMetricsSink(writer MetricsWriter) *MetricsSink {
	return &MetricsSink{writer: writer}
}

// Types returns the event types the sink consumes.
func (s *MetricsSink) Types() []Type {
	return []Type{ExecutionCompleted, DiscoverySynced}
}

// Handle implements Sink.
func (s *MetricsSink) Handle(_ context.Context, event Event) error {
	switch event.Type {
	case ExecutionCompleted:
		data, err := event.Execution()
		if err != nil {
			return err
		}
		s.writer.WriteExecution(data.Kind, data.Status, data.DefinitionID,
			time.Duration(data.DurationMS)*time.Millisecond)
	case DiscoverySynced:
		data, err := event.Sync()
		if err != nil {
			return err
		}
		s.writer.WriteCatalogSync("team", data.Teams.Added, data.Teams.Updated, data.Teams.Total, data.Teams.Warnings)
		s.writer.WriteCatalogSync("workflow", data.Workflows.Added, data.Workflows.Updated, data.Workflows.Total, data.Workflows.Warnings)
	}
	return nil
}
