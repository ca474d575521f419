package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/events"
	"github.com/nerrad567/divert-core/internal/registry"
)

// Logger is the minimal logging interface used by discovery.
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

// Scanner produces catalog entries for one kind. *catalog.Scanner satisfies it.
type Scanner interface {
	Kind() catalog.Kind
	Scan(ctx context.Context) catalog.Result
}

// Reconciler applies entries to the registry. *registry.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, kind catalog.Kind, entries []catalog.Entry) (registry.Result, error)
}

// Summary reports one sync pass.
type Summary struct {
	Teams     registry.Result   `json:"teams"`
	Workflows registry.Result   `json:"workflows"`
	Errors    []string          `json:"errors"`
	Warnings  []catalog.Warning `json:"warnings"`
	Source    string            `json:"source"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// OK reports whether both stages completed.
func (s Summary) OK() bool {
	return len(s.Errors) == 0
}

// Coordinator runs sync passes.
//
// Thread Safety:
//   - Passes are serialised by a mutex; a trigger arriving mid-pass waits
//     for it and then runs its own.
type Coordinator struct {
	teams      Scanner
	workflows  Scanner
	reconciler Reconciler
	publisher  events.Publisher
	trail      *audit.Trail
	logger     Logger

	mu sync.Mutex

	lastMu sync.RWMutex
	last   *Summary
}

// NewCoordinator creates a coordinator over the two catalog scanners.
func NewCoordinator(teams, workflows Scanner, reconciler Reconciler) *Coordinator {
	return &Coordinator{
		teams:      teams,
		workflows:  workflows,
		reconciler: reconciler,
		publisher:  events.Nop{},
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetPublisher sets where discovery.synced events go.
func (c *Coordinator) SetPublisher(p events.Publisher) {
	c.publisher = p
}

// SetAuditTrail sets where completed passes are recorded.
func (c *Coordinator) SetAuditTrail(trail *audit.Trail) {
	c.trail = trail
}

// SyncAll runs a pass on behalf of an API caller.
func (c *Coordinator) SyncAll(ctx context.Context) Summary {
	return c.Sync(ctx, audit.SourceAPI)
}

// Sync runs one pass: teams, then workflows. source names the trigger for
// the audit trail (startup, scheduler, api, cli).
func (c *Coordinator) Sync(ctx context.Context, source string) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := Summary{
		Errors:    []string{},
		Warnings:  []catalog.Warning{},
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	c.logger.Info("catalog sync started", "source", source)
	var teamWarnings, workflowWarnings int
	summary.Teams, teamWarnings = c.runStage(ctx, c.teams, &summary)
	summary.Workflows, workflowWarnings = c.runStage(ctx, c.workflows, &summary)
	summary.Duration = time.Since(summary.StartedAt)

	c.logger.Info("catalog sync finished",
		"source", source,
		"teams_added", summary.Teams.Added,
		"teams_updated", summary.Teams.Updated,
		"workflows_added", summary.Workflows.Added,
		"workflows_updated", summary.Workflows.Updated,
		"warnings", len(summary.Warnings),
		"errors", len(summary.Errors),
		"duration", summary.Duration,
	)

	c.record(ctx, summary, teamWarnings, workflowWarnings)

	c.lastMu.Lock()
	c.last = &summary
	c.lastMu.Unlock()

	return summary
}

// Last returns the most recent summary, or nil before the first pass.
func (c *Coordinator) Last() *Summary {
	c.lastMu.RLock()
	defer c.lastMu.RUnlock()
	if c.last == nil {
		return nil
	}
	s := *c.last
	return &s
}

// runStage scans and reconciles one kind inside its own error boundary.
func (c *Coordinator) runStage(ctx context.Context, scanner Scanner, summary *Summary) (result registry.Result, warnings int) {
	if scanner == nil {
		return result, 0
	}
	kind := scanner.Kind()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("catalog sync stage panicked", "kind", kind, "panic", r)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: panic: %v", kind, r))
		}
	}()

	scan := scanner.Scan(ctx)
	summary.Warnings = append(summary.Warnings, scan.Warnings...)
	warnings = len(scan.Warnings)

	result, err := c.reconciler.Reconcile(ctx, kind, scan.Entries)
	if err != nil {
		c.logger.Error("catalog sync stage failed", "kind", kind, "error", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", kind, err))
		// A failed stage reports zero counts.
		return registry.Result{}, warnings
	}
	return result, warnings
}

// record writes the audit entry and publishes the event. Neither can fail
// the pass.
func (c *Coordinator) record(ctx context.Context, s Summary, teamWarnings, workflowWarnings int) {
	c.trail.Record(ctx, audit.AuditLog{
		Action:     audit.ActionSync,
		EntityType: "catalog",
		Source:     s.Source,
		Details: map[string]any{
			"teams_added":       s.Teams.Added,
			"teams_updated":     s.Teams.Updated,
			"teams_total":       s.Teams.Total,
			"workflows_added":   s.Workflows.Added,
			"workflows_updated": s.Workflows.Updated,
			"workflows_total":   s.Workflows.Total,
			"warnings":          len(s.Warnings),
			"errors":            s.Errors,
			"duration_ms":       s.Duration.Milliseconds(),
		},
	})

	ev, err := events.New(events.DiscoverySynced, "", events.SyncData{
		Teams:      stageCounts(s.Teams, teamWarnings),
		Workflows:  stageCounts(s.Workflows, workflowWarnings),
		Errors:     s.Errors,
		DurationMS: s.Duration.Milliseconds(),
	})
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		c.logger.Warn("failed to publish sync event", "error", err)
	}
}

func stageCounts(r registry.Result, warnings int) events.StageCounts {
	return events.StageCounts{Added: r.Added, Updated: r.Updated, Total: r.Total, Warnings: warnings}
}
