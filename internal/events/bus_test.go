package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{got: make(chan struct{}, 16)}
}

func (s *collectingSink) Handle(_ context.Context, e Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *collectingSink) wait(t *testing.T, n int) []Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func startBus(t *testing.T, register func(*Bus)) *Bus {
	t.Helper()
	bus, err := NewBus(nil)
	require.NoError(t, err)
	register(bus)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = bus.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
	})

	select {
	case <-bus.Running():
	case <-time.After(3 * time.Second):
		t.Fatal("bus did not start")
	}
	return bus
}

func TestBus_DeliversByType(t *testing.T) {
	all := newCollectingSink()
	completed := newCollectingSink()
	bus := startBus(t, func(b *Bus) {
		b.AddSink("all", all)
		b.AddSink("completed", completed, ExecutionCompleted)
	})
	ctx := context.Background()

	started, err := New(ExecutionStarted, "u1", ExecutionData{ExecutionID: "exec-1", Status: "running"})
	require.NoError(t, err)
	done, err := New(ExecutionCompleted, "u1", ExecutionData{ExecutionID: "exec-1", Status: "success", DurationMS: 12})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, started))
	require.NoError(t, bus.Publish(ctx, done))

	got := all.wait(t, 2)
	types := []Type{got[0].Type, got[1].Type}
	assert.ElementsMatch(t, []Type{ExecutionStarted, ExecutionCompleted}, types)

	only := completed.wait(t, 1)
	require.Len(t, only, 1)
	data, err := only[0].Execution()
	require.NoError(t, err)
	assert.Equal(t, "success", data.Status)
	assert.EqualValues(t, 12, data.DurationMS)
	assert.Equal(t, "u1", only[0].UserID)
}

func TestBus_SinkErrorDoesNotBlock(t *testing.T) {
	calls := make(chan struct{}, 4)
	failing := SinkFunc(func(context.Context, Event) error {
		calls <- struct{}{}
		return assert.AnError
	})
	ok := newCollectingSink()
	bus := startBus(t, func(b *Bus) {
		b.AddSink("failing", failing, DiscoverySynced)
		b.AddSink("ok", ok, DiscoverySynced)
	})

	ev, err := New(DiscoverySynced, "", SyncData{DurationMS: 5})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))

	ok.wait(t, 1)
	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("failing sink never called")
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus, err := NewBus(nil)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	ev, err := New(DiscoverySynced, "", SyncData{})
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrBusClosed)
	assert.NoError(t, bus.Close(), "second close is a no-op")
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ev, err := New(ExecutionStarted, "u1", ExecutionData{ExecutionID: "e"})
	require.NoError(t, err)
	require.NoError(t, r.Publish(context.Background(), ev))
	assert.Equal(t, []Type{ExecutionStarted}, r.Types())
	assert.NoError(t, Nop{}.Publish(context.Background(), ev))
}
