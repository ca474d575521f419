package vault

import (
	"context"
	"fmt"
	"time"
)

// Logger defines the logging interface used by the vault.
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

// Vault encrypts, stores, and checks per-user credentials.
//
// All public methods are thread-safe.
type Vault struct {
	repo   Repository
	cipher *Cipher
	logger Logger
}

// New creates a vault over repo using the resolved 32-byte key.
func New(repo Repository, key []byte) (*Vault, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &Vault{repo: repo, cipher: c, logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the vault.
func (v *Vault) SetLogger(logger Logger) {
	v.logger = logger
}

// Store seals plaintext and upserts it for (userID, service). A previously
// removed credential is reactivated rather than duplicated. The status is
// reset to not_configured until the credential is tested again.
func (v *Vault) Store(ctx context.Context, userID, service string, kind Kind, plaintext map[string]string) (*Credential, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	blob, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing credential: %w", err)
	}

	rec := &Record{
		Credential: Credential{UserID: userID, ServiceName: service, Kind: kind},
		Blob:       blob,
	}
	if err := v.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	v.logger.Info("credential stored", "user_id", userID, "service", service, "kind", string(kind))
	cred := rec.Credential
	return &cred, nil
}

// Fetch returns the decrypted credential for (userID, service) if active.
// A blob that fails to open yields ErrCredentialCorrupt; partial data is
// never returned.
func (v *Vault) Fetch(ctx context.Context, userID, service string) (map[string]string, error) {
	rec, err := v.repo.GetActive(ctx, userID, service)
	if err != nil {
		return nil, err
	}

	plaintext, err := v.cipher.Decrypt(rec.Blob)
	if err != nil {
		v.logger.Error("credential failed to decrypt", "user_id", userID, "service", service, "error", err)
		return nil, err
	}
	return plaintext, nil
}

// ValidateRequired reports, for each service, whether the user has an active
// credential. Only presence is checked; blobs are not opened.
// An empty list yields an empty map.
func (v *Vault) ValidateRequired(ctx context.Context, userID string, services []string) (map[string]bool, error) {
	if len(services) == 0 {
		return map[string]bool{}, nil
	}
	return v.repo.ActiveServices(ctx, userID, services)
}

// Remove soft-deactivates a credential.
func (v *Vault) Remove(ctx context.Context, userID, service string) error {
	if err := v.repo.Deactivate(ctx, userID, service); err != nil {
		return err
	}
	v.logger.Info("credential removed", "user_id", userID, "service", service)
	return nil
}

// List returns credential metadata for the user.
func (v *Vault) List(ctx context.Context, userID string) ([]Credential, error) {
	return v.repo.ListByUser(ctx, userID)
}

// SetStatus records a connection test result for an active credential.
func (v *Vault) SetStatus(ctx context.Context, userID, service string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return v.repo.SetStatus(ctx, userID, service, status, time.Now())
}

// Missing returns the services from the ValidateRequired result that are
// absent, in input order.
func Missing(services []string, present map[string]bool) []string {
	var missing []string
	for _, s := range services {
		if !present[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
