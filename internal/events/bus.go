package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("events: bus closed")

// Logger is the minimal logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink consumes events delivered by the bus.
type Sink interface {
	Handle(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus is an in-process event bus on watermill's gochannel pub/sub.
//
// Register sinks with AddSink before Run. Publish is safe for concurrent use
// and never waits for sinks.
type Bus struct {
	pubsub *gochannel.GoChannel
	router *message.Router
	logger Logger

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus. wmLogger receives watermill's internal logs; nil
// discards them.
func NewBus(wmLogger watermill.LoggerAdapter) (*Bus, error) {
	if wmLogger == nil {
		wmLogger = watermill.NopLogger{}
	}

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		wmLogger,
	)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("creating event router: %w", err)
	}

	return &Bus{pubsub: pubsub, router: router, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for sink failures.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// AddSink subscribes sink to the given event types (all types when none are
// given). name must be unique per bus.
func (b *Bus) AddSink(name string, sink Sink, types ...Type) {
	if len(types) == 0 {
		types = AllTypes
	}
	for _, t := range types {
		b.router.AddNoPublisherHandler(
			name+"_"+string(t),
			string(t),
			b.pubsub,
			b.handlerFor(name, sink),
		)
	}
}

// handlerFor wraps a sink. Errors are logged and the message acked: a nacked
// gochannel message is redelivered forever.
func (b *Bus) handlerFor(name string, sink Sink) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			b.logger.Error("dropping undecodable event", "sink", name, "message_id", msg.UUID, "error", err)
			return nil
		}
		if err := sink.Handle(msg.Context(), event); err != nil {
			b.logger.Warn("event sink failed", "sink", name, "event_type", event.Type, "event_id", event.ID, "error", err)
		}
		return nil
	}
}

// Run starts delivering events. It blocks until ctx is cancelled or Close is
// called.
func (b *Bus) Run(ctx context.Context) error {
	if err := b.router.Run(ctx); err != nil {
		return fmt.Errorf("running event router: %w", err)
	}
	return nil
}

// Running is closed once Run has started every handler.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Publish enqueues event for every subscribed sink.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.SetContext(context.WithoutCancel(ctx))

	if err := b.pubsub.Publish(string(event.Type), msg); err != nil {
		return fmt.Errorf("publishing %s: %w", event.Type, err)
	}
	return nil
}

// Close stops the router and the pub/sub.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	routerErr := b.router.Close()
	pubsubErr := b.pubsub.Close()
	return errors.Join(routerErr, pubsubErr)
}
