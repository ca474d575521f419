package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/divert-core/internal/vault"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CredentialStore is the subset of the vault used here.
type CredentialStore interface {
	Store(ctx context.Context, userID, service string, kind vault.Kind, plaintext map[string]string) (*vault.Credential, error)
	Fetch(ctx context.Context, userID, service string) (map[string]string, error)
	Remove(ctx context.Context, userID, service string) error
	List(ctx context.Context, userID string) ([]vault.Credential, error)
	SetStatus(ctx context.Context, userID, service string, status vault.Status) error
}

// Prober tests credentials against a service.
type Prober interface {
	Test(ctx context.Context, service string, creds map[string]string) (bool, error)
}

// Integration is a template merged with one user's configuration state.
type Integration struct {
	Template
	Status       vault.Status `json:"status"`
	IsConfigured bool         `json:"is_configured"`
	ConfiguredAt *time.Time   `json:"configured_at"`
}

// Manager configures, tests, and removes a user's integrations.
type Manager struct {
	store  CredentialStore
	prober Prober
	logger Logger
}

// NewManager creates an integration manager.
func NewManager(store CredentialStore, prober Prober) *Manager {
	return &Manager{store: store, prober: prober, logger: noopLogger{}}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Configure validates, tests, and stores credentials for a service.
// A failed test still stores the credentials, with status error.
func (m *Manager) Configure(ctx context.Context, userID, service string, creds map[string]string) (vault.Status, error) {
	tmpl, ok := Lookup(service)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedService, service)
	}
	if missing := MissingFields(tmpl, creds); len(missing) > 0 {
		return "", &MissingFieldsError{Fields: missing}
	}

	status := m.probe(ctx, tmpl.Service, creds)

	if _, err := m.store.Store(ctx, userID, tmpl.Service, tmpl.Kind, creds); err != nil {
		return "", fmt.Errorf("storing %s credentials: %w", tmpl.Service, err)
	}
	if err := m.store.SetStatus(ctx, userID, tmpl.Service, status); err != nil {
		return "", fmt.Errorf("recording %s status: %w", tmpl.Service, err)
	}

	m.logger.Info("integration configured", "user_id", userID, "service", tmpl.Service, "status", string(status))
	return status, nil
}

// Retest probes the stored credentials again and records the result.
func (m *Manager) Retest(ctx context.Context, userID, service string) (vault.Status, error) {
	name := strings.ToLower(service)
	creds, err := m.store.Fetch(ctx, userID, name)
	if err != nil {
		if errors.Is(err, vault.ErrCredentialNotFound) {
			return "", ErrNotConfigured
		}
		return "", err
	}

	status := m.probe(ctx, name, creds)
	if err := m.store.SetStatus(ctx, userID, name, status); err != nil {
		return "", fmt.Errorf("recording %s status: %w", name, err)
	}
	return status, nil
}

// Remove deactivates the user's credentials for a service.
func (m *Manager) Remove(ctx context.Context, userID, service string) error {
	err := m.store.Remove(ctx, userID, strings.ToLower(service))
	if errors.Is(err, vault.ErrCredentialNotFound) {
		return ErrNotConfigured
	}
	return err
}

// Overview returns every supported integration with the user's state.
func (m *Manager) Overview(ctx context.Context, userID string) ([]Integration, error) {
	creds, err := m.store.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	active := make(map[string]vault.Credential, len(creds))
	for _, c := range creds {
		if c.IsActive {
			active[c.ServiceName] = c
		}
	}

	all := All()
	out := make([]Integration, 0, len(all))
	for _, tmpl := range all {
		item := Integration{Template: tmpl, Status: vault.StatusNotConfigured}
		if c, ok := active[tmpl.Service]; ok {
			createdAt := c.CreatedAt
			item.Status = c.Status
			item.IsConfigured = true
			item.ConfiguredAt = &createdAt
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *Manager) probe(ctx context.Context, service string, creds map[string]string) vault.Status {
	ok, err := m.prober.Test(ctx, service, creds)
	if err != nil {
		m.logger.Warn("integration probe failed", "service", service, "error", err)
	}
	if ok {
		return vault.StatusConnected
	}
	return vault.StatusError
}
