package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// Repository persists execution records.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Complete(ctx context.Context, rec *Record) error
	Get(ctx context.Context, userID, id string) (*Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
	DeleteByDefinition(ctx context.Context, kind catalog.Kind, definitionID string) (int64, error)
}

// SQLiteRepository implements Repository using SQLite through sqlx.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a new SQLite execution repository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// recordRow maps an executions row.
type recordRow struct {
	ID                string         `db:"id"`
	Kind              string         `db:"kind"`
	DefinitionID      string         `db:"definition_id"`
	InstanceID        sql.NullString `db:"instance_id"`
	UserID            string         `db:"user_id"`
	Inputs            string         `db:"inputs"`
	Status            string         `db:"status"`
	Outputs           sql.NullString `db:"outputs"`
	ErrorMessage      sql.NullString `db:"error_message"`
	EngineExecutionID sql.NullString `db:"engine_execution_id"`
	StartedAt         string         `db:"started_at"`
	CompletedAt       sql.NullString `db:"completed_at"`
}

const recordColumns = `id, kind, definition_id, instance_id, user_id, inputs, status,
	outputs, error_message, engine_execution_id, started_at, completed_at`

func (row recordRow) toRecord() Record {
	rec := Record{
		ID:                row.ID,
		Kind:              catalog.Kind(row.Kind),
		DefinitionID:      row.DefinitionID,
		InstanceID:        row.InstanceID.String,
		UserID:            row.UserID,
		Status:            Status(row.Status),
		ErrorMessage:      row.ErrorMessage.String,
		EngineExecutionID: row.EngineExecutionID.String,
	}
	_ = json.Unmarshal([]byte(row.Inputs), &rec.Inputs) //nolint:errcheck // written by us
	if rec.Inputs == nil {
		rec.Inputs = map[string]any{}
	}
	if row.Outputs.Valid {
		_ = json.Unmarshal([]byte(row.Outputs.String), &rec.Outputs) //nolint:errcheck // written by us
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, row.StartedAt) //nolint:errcheck // format is controlled
	if row.CompletedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, row.CompletedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	return rec
}

// Create inserts a running record. ID and StartedAt are assigned when empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = "exec-" + uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.Status = StatusRunning
	if rec.Inputs == nil {
		rec.Inputs = map[string]any{}
	}

	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs: %w", err)
	}

	row := recordRow{
		ID:           rec.ID,
		Kind:         string(rec.Kind),
		DefinitionID: rec.DefinitionID,
		InstanceID:   nullString(rec.InstanceID),
		UserID:       rec.UserID,
		Inputs:       string(inputs),
		Status:       string(StatusRunning),
		StartedAt:    rec.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := r.db.NamedExecContext(ctx,
		`INSERT INTO executions (`+recordColumns+`) VALUES (
			:id, :kind, :definition_id, :instance_id, :user_id, :inputs, :status,
			NULL, NULL, NULL, :started_at, NULL)`,
		row,
	); err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// Complete moves a running record to its terminal state. The update is
// guarded on status = 'running' so a record is completed at most once.
func (r *SQLiteRepository) Complete(ctx context.Context, rec *Record) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, rec.Status)
	}
	if rec.CompletedAt == nil {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}

	var outputs sql.NullString
	if rec.Outputs != nil {
		data, err := json.Marshal(rec.Outputs)
		if err != nil {
			return fmt.Errorf("encoding outputs: %w", err)
		}
		outputs = sql.NullString{String: string(data), Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, outputs = ?, error_message = ?,
			engine_execution_id = ?, completed_at = ?
		 WHERE id = ? AND status = 'running'`,
		string(rec.Status), outputs, nullString(rec.ErrorMessage),
		nullString(rec.EngineExecutionID), rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		if err := r.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM executions WHERE id = ?`, rec.ID); err != nil {
			return fmt.Errorf("checking execution: %w", err)
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrAlreadyTerminal
	}
	return nil
}

// Get returns a record owned by userID.
func (r *SQLiteRepository) Get(ctx context.Context, userID, id string) (*Record, error) {
	var row recordRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+recordColumns+` FROM executions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting execution: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// List returns a user's records, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) ([]Record, error) {
	where := []string{"user_id = ?"}
	args := []any{filter.UserID}

	if filter.InstanceID != "" {
		where = append(where, "instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
		}
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM executions
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY started_at DESC, id
		 LIMIT ? OFFSET ?`,
		args...,
	); err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// DeleteByDefinition hard-deletes the records of one definition. Used when a
// clone is removed.
func (r *SQLiteRepository) DeleteByDefinition(ctx context.Context, kind catalog.Kind, definitionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM executions WHERE kind = ? AND definition_id = ?`, string(kind), definitionID)
	if err != nil {
		return 0, fmt.Errorf("deleting executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// nullString converts a string to sql.NullString (empty = NULL).
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
