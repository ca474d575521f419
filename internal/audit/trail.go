package audit

import "context"

// Logger is the minimal logging interface used by Trail.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Trail writes audit entries on a best-effort basis: a failed write is
// logged and never fails the operation being audited.
type Trail struct {
	repo   Repository
	logger Logger
}

// NewTrail creates a Trail over repo. A nil repo yields a Trail that
// records nothing.
func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for write failures.
func (t *Trail) SetLogger(logger Logger) {
	t.logger = logger
}

// Record appends an entry. The caller's cancellation does not abort the
// write.
func (t *Trail) Record(ctx context.Context, entry AuditLog) {
	if t == nil || t.repo == nil {
		return
	}
	if err := t.repo.Create(context.WithoutCancel(ctx), &entry); err != nil {
		t.logger.Warn("failed to write audit log",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
