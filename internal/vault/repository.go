package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository persists sealed credential records.
type Repository interface {
	// Upsert inserts or overwrites the (user, service) row, reactivating it
	// and resetting its status. rec is updated with the stored values.
	Upsert(ctx context.Context, rec *Record) error

	// GetActive returns the active row or ErrCredentialNotFound.
	GetActive(ctx context.Context, userID, service string) (*Record, error)

	// ActiveServices returns which of services have an active row.
	ActiveServices(ctx context.Context, userID string, services []string) (map[string]bool, error)

	// Deactivate soft-deletes the row and resets its status.
	Deactivate(ctx context.Context, userID, service string) error

	// ListByUser returns metadata for every row of the user, active or not.
	ListByUser(ctx context.Context, userID string) ([]Credential, error)

	// SetStatus records a connection test result.
	SetStatus(ctx context.Context, userID, service string, status Status, testedAt time.Time) error
}

// SQLiteRepository implements Repository on the user_credentials table.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a credential repository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// credentialRow maps a user_credentials row.
type credentialRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	ServiceName string         `db:"service_name"`
	Kind        string         `db:"credential_kind"`
	Blob        string         `db:"encrypted_blob"`
	Status      string         `db:"status"`
	IsActive    int            `db:"is_active"`
	LastTested  sql.NullString `db:"last_tested"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

const credentialColumns = `id, user_id, service_name, credential_kind, encrypted_blob, status, is_active, last_tested, created_at, updated_at`

func (row credentialRow) toRecord() *Record {
	rec := &Record{
		Credential: Credential{
			ID:          row.ID,
			UserID:      row.UserID,
			ServiceName: row.ServiceName,
			Kind:        Kind(row.Kind),
			Status:      Status(row.Status),
			IsActive:    row.IsActive != 0,
		},
		Blob: row.Blob,
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, row.CreatedAt) //nolint:errcheck // format is controlled
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, row.UpdatedAt) //nolint:errcheck // format is controlled
	if row.LastTested.Valid {
		if t, err := time.Parse(time.RFC3339, row.LastTested.String); err == nil {
			rec.LastTested = &t
		}
	}
	return rec
}

// Upsert inserts or overwrites the (user, service) credential.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	now := time.Now().UTC().Format(time.RFC3339)
	row := credentialRow{
		ID:          "cred-" + uuid.NewString(),
		UserID:      rec.UserID,
		ServiceName: rec.ServiceName,
		Kind:        string(rec.Kind),
		Blob:        rec.Blob,
		Status:      string(StatusNotConfigured),
		IsActive:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO user_credentials (`+credentialColumns+`)
		 VALUES (:id, :user_id, :service_name, :credential_kind, :encrypted_blob, :status, :is_active, NULL, :created_at, :updated_at)
		 ON CONFLICT (user_id, service_name) DO UPDATE SET
		     credential_kind = excluded.credential_kind,
		     encrypted_blob = excluded.encrypted_blob,
		     status = excluded.status,
		     is_active = 1,
		     last_tested = NULL,
		     updated_at = excluded.updated_at`,
		row,
	)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	var stored credentialRow
	if err := r.db.GetContext(ctx, &stored,
		`SELECT `+credentialColumns+` FROM user_credentials WHERE user_id = ? AND service_name = ?`,
		rec.UserID, rec.ServiceName,
	); err != nil {
		return fmt.Errorf("reading stored credential: %w", err)
	}
	*rec = *stored.toRecord()
	return nil
}

// GetActive returns the active credential row.
func (r *SQLiteRepository) GetActive(ctx context.Context, userID, service string) (*Record, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM user_credentials
		 WHERE user_id = ? AND service_name = ? AND is_active = 1`,
		userID, service,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("getting credential: %w", err)
	}
	return row.toRecord(), nil
}

// ActiveServices reports presence for each requested service.
func (r *SQLiteRepository) ActiveServices(ctx context.Context, userID string, services []string) (map[string]bool, error) {
	result := make(map[string]bool, len(services))
	if len(services) == 0 {
		return result, nil
	}
	for _, s := range services {
		result[s] = false
	}

	query, args, err := sqlx.In(
		`SELECT service_name FROM user_credentials
		 WHERE user_id = ? AND is_active = 1 AND service_name IN (?)`,
		userID, services,
	)
	if err != nil {
		return nil, fmt.Errorf("building credential query: %w", err)
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	for _, s := range found {
		result[s] = true
	}
	return result, nil
}

// Deactivate soft-deletes a credential.
func (r *SQLiteRepository) Deactivate(ctx context.Context, userID, service string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_credentials SET is_active = 0, status = ?, updated_at = ?
		 WHERE user_id = ? AND service_name = ? AND is_active = 1`,
		string(StatusNotConfigured), time.Now().UTC().Format(time.RFC3339), userID, service,
	)
	if err != nil {
		return fmt.Errorf("deactivating credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrCredentialNotFound
	}
	return nil
}

// ListByUser returns all credential metadata for a user, ordered by service.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	var rows []credentialRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+credentialColumns+` FROM user_credentials WHERE user_id = ? ORDER BY service_name`,
		userID,
	); err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	creds := make([]Credential, 0, len(rows))
	for _, row := range rows {
		creds = append(creds, row.toRecord().Credential)
	}
	return creds, nil
}

// SetStatus records the outcome of a connection test on the active row.
func (r *SQLiteRepository) SetStatus(ctx context.Context, userID, service string, status Status, testedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_credentials SET status = ?, last_tested = ?, updated_at = ?
		 WHERE user_id = ? AND service_name = ? AND is_active = 1`,
		string(status), testedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
		userID, service,
	)
	if err != nil {
		return fmt.Errorf("updating credential status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return ErrCredentialNotFound
	}
	return nil
}
