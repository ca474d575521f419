package registry

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
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/divert-core/internal/catalog"
)

// Repository persists definitions and instances.
type Repository interface {
	// Definitions
	ListDefinitions(ctx context.Context, kind catalog.Kind, filter DefinitionFilter) ([]Definition, error)
	GetDefinition(ctx context.Context, kind catalog.Kind, id string) (*Definition, error)
	GetDefinitionByFolder(ctx context.Context, kind catalog.Kind, folder string) (*Definition, error)
	CreateDefinition(ctx context.Context, def *Definition) error
	UpdateDefinition(ctx context.Context, def *Definition) error
	DeleteDefinition(ctx context.Context, kind catalog.Kind, id string) error
	SetDefinitionActive(ctx context.Context, kind catalog.Kind, id string, active bool) error
	SetExternalID(ctx context.Context, kind catalog.Kind, id, externalID string) error
	Categories(ctx context.Context, kind catalog.Kind) ([]string, error)
	CategoryCounts(ctx context.Context, kind catalog.Kind) (map[string]int, error)

	// Instances
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstances(ctx context.Context, userID string) ([]Instance, error)
	UpdateInstance(ctx context.Context, inst *Instance) error
	DeleteInstance(ctx context.Context, id string) error
	FindActiveInstance(ctx context.Context, userID string, kind catalog.Kind, definitionID string) (*Instance, error)
	FindActiveClone(ctx context.Context, userID, template string) (*Definition, error)
	RecordExecution(ctx context.Context, instanceID string, success bool, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite through sqlx.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a new SQLite registry repository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// tableFor maps a kind to its definition table. Table names never come from
// user input.
func tableFor(kind catalog.Kind) (string, error) {
	switch kind {
	case catalog.KindTeam:
		return "teams", nil
	case catalog.KindWorkflow:
		return "workflows", nil
	default:
		return "", ErrInvalidKind
	}
}

// definitionRow maps a teams/workflows row.
type definitionRow struct {
	ID                  string         `db:"id"`
	FolderName          string         `db:"folder_name"`
	Name                string         `db:"name"`
	Description         string         `db:"description"`
	Category            string         `db:"category"`
	Tags                string         `db:"tags"`
	Integrations        string         `db:"integrations"`
	RequiredCredentials string         `db:"required_credentials"`
	NodeCount           int            `db:"node_count"`
	Version             sql.NullString `db:"version"`
	Author              sql.NullString `db:"author"`
	ExternalID          sql.NullString `db:"external_id"`
	Metadata            string         `db:"metadata"`
	IsActive            int            `db:"is_active"`
	CreatedAt           string         `db:"created_at"`
	UpdatedAt           string         `db:"updated_at"`
}

const definitionColumns = `id, folder_name, name, description, category, tags, integrations,
	required_credentials, node_count, version, author, external_id, metadata, is_active,
	created_at, updated_at`

func (row definitionRow) toDefinition(kind catalog.Kind) Definition {
	def := Definition{
		ID:                  row.ID,
		Kind:                kind,
		FolderName:          row.FolderName,
		Name:                row.Name,
		Description:         row.Description,
		Category:            row.Category,
		Tags:                decodeList(row.Tags),
		Integrations:        decodeList(row.Integrations),
		RequiredCredentials: decodeList(row.RequiredCredentials),
		NodeCount:           row.NodeCount,
		Version:             row.Version.String,
		Author:              row.Author.String,
		ExternalID:          row.ExternalID.String,
		IsActive:            row.IsActive != 0,
	}
	if row.Metadata != "" && row.Metadata != "{}" {
		_ = json.Unmarshal([]byte(row.Metadata), &def.Metadata) //nolint:errcheck // written by us
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, row.CreatedAt) //nolint:errcheck // format is controlled
	def.UpdatedAt, _ = time.Parse(time.RFC3339, row.UpdatedAt) //nolint:errcheck // format is controlled
	return def
}

func fromDefinition(def *Definition) (definitionRow, error) {
	meta := []byte("{}")
	if len(def.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(def.Metadata); err != nil {
			return definitionRow{}, fmt.Errorf("encoding metadata: %w", err)
		}
	}
	return definitionRow{
		ID:                  def.ID,
		FolderName:          def.FolderName,
		Name:                def.Name,
		Description:         def.Description,
		Category:            def.Category,
		Tags:                encodeList(def.Tags),
		Integrations:        encodeList(def.Integrations),
		RequiredCredentials: encodeList(def.RequiredCredentials),
		NodeCount:           def.NodeCount,
		Version:             nullString(def.Version),
		Author:              nullString(def.Author),
		ExternalID:          nullString(def.ExternalID),
		Metadata:            string(meta),
		IsActive:            boolToInt(def.IsActive),
		CreatedAt:           def.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           def.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// ListDefinitions returns definitions of one kind ordered by name.
func (r *SQLiteRepository) ListDefinitions(ctx context.Context, kind catalog.Kind, filter DefinitionFilter) ([]Definition, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if filter.ExcludeClones {
		where = append(where, "category <> ?")
		args = append(args, ClonedCategory)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		where = append(where, "(name LIKE ? OR description LIKE ?)")
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + definitionColumns + ` FROM ` + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, folder_name"

	var rows []definitionRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}

	defs := make([]Definition, 0, len(rows))
	for _, row := range rows {
		defs = append(defs, row.toDefinition(kind))
	}
	return defs, nil
}

// GetDefinition returns a definition by ID.
func (r *SQLiteRepository) GetDefinition(ctx context.Context, kind catalog.Kind, id string) (*Definition, error) {
	return r.getDefinitionBy(ctx, kind, "id", id)
}

// GetDefinitionByFolder returns a definition by folder name.
func (r *SQLiteRepository) GetDefinitionByFolder(ctx context.Context, kind catalog.Kind, folder string) (*Definition, error) {
	return r.getDefinitionBy(ctx, kind, "folder_name", folder)
}

func (r *SQLiteRepository) getDefinitionBy(ctx context.Context, kind catalog.Kind, column, value string) (*Definition, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var row definitionRow
	err = r.db.GetContext(ctx, &row,
		`SELECT `+definitionColumns+` FROM `+table+` WHERE `+column+` = ?`, value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("getting %s definition: %w", kind, err)
	}
	def := row.toDefinition(kind)
	return &def, nil
}

// CreateDefinition inserts a definition. ID and timestamps are assigned when
// empty.
func (r *SQLiteRepository) CreateDefinition(ctx context.Context, def *Definition) error {
	table, err := tableFor(def.Kind)
	if err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = idPrefix(def.Kind) + uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	def.CreatedAt = now
	def.UpdatedAt = now

	row, err := fromDefinition(def)
	if err != nil {
		return err
	}

	_, err = r.db.NamedExecContext(ctx,
		`INSERT INTO `+table+` (`+definitionColumns+`) VALUES (
			:id, :folder_name, :name, :description, :category, :tags, :integrations,
			:required_credentials, :node_count, :version, :author, :external_id, :metadata,
			:is_active, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDefinitionExists
		}
		return fmt.Errorf("inserting %s definition: %w", def.Kind, err)
	}
	return nil
}

// UpdateDefinition overwrites every mutable column of a definition.
func (r *SQLiteRepository) UpdateDefinition(ctx context.Context, def *Definition) error {
	table, err := tableFor(def.Kind)
	if err != nil {
		return err
	}
	def.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	row, err := fromDefinition(def)
	if err != nil {
		return err
	}

	res, err := r.db.NamedExecContext(ctx,
		`UPDATE `+table+` SET
			name = :name, description = :description, category = :category, tags = :tags,
			integrations = :integrations, required_credentials = :required_credentials,
			node_count = :node_count, version = :version, author = :author,
			external_id = :external_id, metadata = :metadata, is_active = :is_active,
			updated_at = :updated_at
		 WHERE id = :id`,
		row,
	)
	if err != nil {
		return fmt.Errorf("updating %s definition: %w", def.Kind, err)
	}
	return requireRow(res, ErrDefinitionNotFound)
}

// DeleteDefinition hard-deletes a definition. Instances cascade.
func (r *SQLiteRepository) DeleteDefinition(ctx context.Context, kind catalog.Kind, id string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting %s definition: %w", kind, err)
	}
	return requireRow(res, ErrDefinitionNotFound)
}

// SetDefinitionActive flips the catalog visibility of a definition.
func (r *SQLiteRepository) SetDefinitionActive(ctx context.Context, kind catalog.Kind, id string, active bool) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("setting %s definition active: %w", kind, err)
	}
	return requireRow(res, ErrDefinitionNotFound)
}

// SetExternalID records the engine-side identifier of a definition.
func (r *SQLiteRepository) SetExternalID(ctx context.Context, kind catalog.Kind, id, externalID string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+table+` SET external_id = ?, updated_at = ? WHERE id = ?`,
		nullString(externalID), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("setting external id: %w", err)
	}
	return requireRow(res, ErrDefinitionNotFound)
}

// Categories returns the distinct categories of active catalog definitions.
func (r *SQLiteRepository) Categories(ctx context.Context, kind catalog.Kind) ([]string, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var cats []string
	if err := r.db.SelectContext(ctx, &cats,
		`SELECT DISTINCT category FROM `+table+`
		 WHERE is_active = 1 AND category <> '' AND category <> ?
		 ORDER BY category`, ClonedCategory,
	); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return cats, nil
}

// CategoryCounts returns active catalog definitions per category.
func (r *SQLiteRepository) CategoryCounts(ctx context.Context, kind catalog.Kind) (map[string]int, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT category, COUNT(*) AS n FROM `+table+`
		 WHERE is_active = 1 AND category <> ?
		 GROUP BY category`, ClonedCategory,
	); err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Category] = row.Count
	}
	return counts, nil
}

// instanceRow maps an automation_instances row.
type instanceRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	TeamID         sql.NullString `db:"team_id"`
	WorkflowID     sql.NullString `db:"workflow_id"`
	Name           string         `db:"name"`
	IsActive       int            `db:"is_active"`
	IsEnabled      int            `db:"is_enabled"`
	ExecutionCount int            `db:"execution_count"`
	SuccessCount   int            `db:"success_count"`
	ErrorCount     int            `db:"error_count"`
	LastExecuted   sql.NullString `db:"last_executed"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

const instanceColumns = `id, user_id, team_id, workflow_id, name, is_active, is_enabled,
	execution_count, success_count, error_count, last_executed, created_at, updated_at`

func (row instanceRow) toInstance() Instance {
	inst := Instance{
		ID:             row.ID,
		UserID:         row.UserID,
		Name:           row.Name,
		IsActive:       row.IsActive != 0,
		IsEnabled:      row.IsEnabled != 0,
		ExecutionCount: row.ExecutionCount,
		SuccessCount:   row.SuccessCount,
		ErrorCount:     row.ErrorCount,
	}
	if row.TeamID.Valid {
		inst.Kind = catalog.KindTeam
		inst.DefinitionID = row.TeamID.String
	} else {
		inst.Kind = catalog.KindWorkflow
		inst.DefinitionID = row.WorkflowID.String
	}
	if row.LastExecuted.Valid {
		if t, err := time.Parse(time.RFC3339, row.LastExecuted.String); err == nil {
			inst.LastExecuted = &t
		}
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, row.CreatedAt) //nolint:errcheck // format is controlled
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, row.UpdatedAt) //nolint:errcheck // format is controlled
	return inst
}

// definitionColumn returns the instance column referencing kind.
func definitionColumn(kind catalog.Kind) (string, error) {
	switch kind {
	case catalog.KindTeam:
		return "team_id", nil
	case catalog.KindWorkflow:
		return "workflow_id", nil
	default:
		return "", ErrInvalidKind
	}
}

// CreateInstance inserts an instance. A second active instance of the same
// definition for the same user violates a partial unique index and returns
// ErrAlreadySubscribed.
func (r *SQLiteRepository) CreateInstance(ctx context.Context, inst *Instance) error {
	if _, err := definitionColumn(inst.Kind); err != nil {
		return err
	}
	if inst.ID == "" {
		inst.ID = "inst-" + uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	inst.CreatedAt = now
	inst.UpdatedAt = now

	row := instanceRow{
		ID:        inst.ID,
		UserID:    inst.UserID,
		Name:      inst.Name,
		IsActive:  boolToInt(inst.IsActive),
		IsEnabled: boolToInt(inst.IsEnabled),
		CreatedAt: now.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
	}
	if inst.Kind == catalog.KindTeam {
		row.TeamID = nullString(inst.DefinitionID)
	} else {
		row.WorkflowID = nullString(inst.DefinitionID)
	}

	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO automation_instances (`+instanceColumns+`) VALUES (
			:id, :user_id, :team_id, :workflow_id, :name, :is_active, :is_enabled,
			0, 0, 0, NULL, :created_at, :updated_at)`,
		row,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySubscribed
		}
		if isForeignKeyViolation(err) {
			return ErrDefinitionNotFound
		}
		return fmt.Errorf("inserting instance: %w", err)
	}
	return nil
}

// GetInstance returns an instance by ID, active or not.
func (r *SQLiteRepository) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var row instanceRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+instanceColumns+` FROM automation_instances WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("getting instance: %w", err)
	}
	inst := row.toInstance()
	return &inst, nil
}

// ListInstances returns a user's active instances, newest first.
func (r *SQLiteRepository) ListInstances(ctx context.Context, userID string) ([]Instance, error) {
	var rows []instanceRow
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT `+instanceColumns+` FROM automation_instances
		 WHERE user_id = ? AND is_active = 1
		 ORDER BY created_at DESC, id`, userID,
	); err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	out := make([]Instance, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toInstance())
	}
	return out, nil
}

// UpdateInstance writes the name and flags of an instance.
func (r *SQLiteRepository) UpdateInstance(ctx context.Context, inst *Instance) error {
	inst.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx,
		`UPDATE automation_instances SET name = ?, is_active = ?, is_enabled = ?, updated_at = ?
		 WHERE id = ?`,
		inst.Name, boolToInt(inst.IsActive), boolToInt(inst.IsEnabled),
		inst.UpdatedAt.Format(time.RFC3339), inst.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySubscribed
		}
		return fmt.Errorf("updating instance: %w", err)
	}
	return requireRow(res, ErrInstanceNotFound)
}

// DeleteInstance hard-deletes an instance. Used by clone deletion only.
func (r *SQLiteRepository) DeleteInstance(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting instance: %w", err)
	}
	return requireRow(res, ErrInstanceNotFound)
}

// FindActiveInstance returns the user's active instance of a definition.
func (r *SQLiteRepository) FindActiveInstance(ctx context.Context, userID string, kind catalog.Kind, definitionID string) (*Instance, error) {
	column, err := definitionColumn(kind)
	if err != nil {
		return nil, err
	}
	var row instanceRow
	err = r.db.GetContext(ctx, &row,
		`SELECT `+instanceColumns+` FROM automation_instances
		 WHERE user_id = ? AND `+column+` = ? AND is_active = 1`,
		userID, definitionID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("finding instance: %w", err)
	}
	inst := row.toInstance()
	return &inst, nil
}

// FindActiveClone returns the user's clone of a workflow template, if any.
// A clone is a Cloned workflow with an active instance owned by the user
// whose description names the template.
func (r *SQLiteRepository) FindActiveClone(ctx context.Context, userID, template string) (*Definition, error) {
	var row definitionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT w.id, w.folder_name, w.name, w.description, w.category, w.tags, w.integrations,
		        w.required_credentials, w.node_count, w.version, w.author, w.external_id,
		        w.metadata, w.is_active, w.created_at, w.updated_at
		 FROM workflows w
		 JOIN automation_instances i ON i.workflow_id = w.id
		 WHERE i.user_id = ? AND i.is_active = 1 AND w.category = ? AND w.description = ?
		 LIMIT 1`,
		userID, ClonedCategory, ClonedDescription(template),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("finding clone: %w", err)
	}
	def := row.toDefinition(catalog.KindWorkflow)
	return &def, nil
}

// RecordExecution bumps the counters of an instance after a run reached a
// terminal state.
func (r *SQLiteRepository) RecordExecution(ctx context.Context, instanceID string, success bool, at time.Time) error {
	successInc, errorInc := 0, 1
	if success {
		successInc, errorInc = 1, 0
	}
	stamp := at.UTC().Format(time.RFC3339)
	res, err := r.db.ExecContext(ctx,
		`UPDATE automation_instances SET
			execution_count = execution_count + 1,
			success_count = success_count + ?,
			error_count = error_count + ?,
			last_executed = ?,
			updated_at = ?
		 WHERE id = ?`,
		successInc, errorInc, stamp, stamp, instanceID,
	)
	if err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return requireRow(res, ErrInstanceNotFound)
}

// idPrefix returns the ID prefix for new definitions.
func idPrefix(kind catalog.Kind) string {
	if kind == catalog.KindTeam {
		return "team-"
	}
	return "wf-"
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out) //nolint:errcheck // written by us
	return out
}

// nullString converts a string to sql.NullString (empty = NULL).
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
