package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/divert-core/internal/audit"
)

// Syncer runs one sync pass. *Coordinator satisfies it.
type Syncer interface {
	Sync(ctx context.Context, source string) Summary
}

// Scheduler triggers sync passes on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	spec   string
	logger Logger

	mu      sync.Mutex
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler validates spec (standard five-field cron or a descriptor such
// as "@every 10m") and returns a stopped scheduler.
func NewScheduler(syncer Syncer, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing sync schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		cron:   cron.New(),
		syncer: syncer,
		spec:   spec,
		logger: noopLogger{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.run))
	return s, nil
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start begins firing. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("catalog sync scheduled", "schedule", s.spec, "next", s.cron.Entry(s.entry).Next)
}

// Stop halts the schedule, cancels a running pass's context and waits for
// it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled catalog sync panicked", "panic", r)
		}
	}()
	summary := s.syncer.Sync(s.ctx, audit.SourceScheduler)
	if !summary.OK() {
		s.logger.Warn("scheduled catalog sync finished with errors", "errors", summary.Errors)
	}
}
