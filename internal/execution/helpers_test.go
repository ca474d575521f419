package execution

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/engine/agent"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	"github.com/nerrad567/divert-core/internal/registry"
	_ "github.com/nerrad567/divert-core/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func seedUser(t *testing.T, db *database.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, username, display_name, password_hash) VALUES (?, ?, ?, 'x')`,
		id, id, id)
	require.NoError(t, err)
}

// fakeEngine records calls and answers from canned fields.
type fakeEngine struct {
	mu sync.Mutex

	probeErr  error
	createErr error
	execErr   error
	toggleErr error
	result    *n8n.ExecuteResult

	created   []map[string]any
	executed  []string
	inputs    []map[string]any
	activated []string
	disabled  []string
}

func (f *fakeEngine) Probe(context.Context) error { return f.probeErr }

func (f *fakeEngine) CreateWorkflow(_ context.Context, doc map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, doc)
	return "wf-remote-1", nil
}

func (f *fakeEngine) Execute(_ context.Context, id string, inputs map[string]any) (*n8n.ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, id)
	f.inputs = append(f.inputs, inputs)
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &n8n.ExecuteResult{Success: true, ExecutionID: "991", Data: map[string]any{"ok": true}}, nil
}

func (f *fakeEngine) Activate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.activated = append(f.activated, id)
	return nil
}

func (f *fakeEngine) Deactivate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.disabled = append(f.disabled, id)
	return nil
}

// fakeCreds reports the listed services as present.
type fakeCreds map[string]bool

func (f fakeCreds) ValidateRequired(_ context.Context, _ string, services []string) (map[string]bool, error) {
	out := make(map[string]bool, len(services))
	for _, s := range services {
		out[s] = f[s]
	}
	return out, nil
}

type harness struct {
	db       *database.DB
	reg      *registry.SQLiteRepository
	records  *SQLiteRepository
	engine   *fakeEngine
	creds    fakeCreds
	teams    agent.RunFunc
	orch     *Orchestrator
	teamsDir string
	flowsDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")

	h := &harness{
		db:       db,
		reg:      registry.NewSQLiteRepository(db.X()),
		records:  NewSQLiteRepository(db.X()),
		engine:   &fakeEngine{},
		creds:    fakeCreds{},
		teamsDir: t.TempDir(),
		flowsDir: t.TempDir(),
	}
	h.teams = func(_ context.Context, inputs map[string]any) (any, error) {
		return map[string]any{"echo": inputs["topic"]}, nil
	}
	h.orch = NewOrchestrator(
		Config{TeamsDir: h.teamsDir, WorkflowsDir: h.flowsDir},
		h.reg, h.records,
		teamRunner{h},
		h.engine,
		h.creds,
	)
	return h
}

// teamRunner lets a test swap the team behaviour after construction.
type teamRunner struct{ h *harness }

func (r teamRunner) Run(ctx context.Context, req agent.Request) (any, error) {
	return r.h.teams(ctx, req.Inputs)
}

func (h *harness) definition(t *testing.T, kind catalog.Kind, folder string, creds ...string) *registry.Definition {
	t.Helper()
	def := &registry.Definition{
		Kind:                kind,
		FolderName:          folder,
		Name:                folder + " name",
		Category:            "Demo",
		RequiredCredentials: creds,
		IsActive:            true,
	}
	require.NoError(t, h.reg.CreateDefinition(context.Background(), def))
	return def
}

func (h *harness) instance(t *testing.T, userID string, def *registry.Definition) *registry.Instance {
	t.Helper()
	inst := &registry.Instance{
		UserID:       userID,
		Kind:         def.Kind,
		DefinitionID: def.ID,
		Name:         def.Name,
		IsActive:     true,
		IsEnabled:    true,
	}
	require.NoError(t, h.reg.CreateInstance(context.Background(), inst))
	return inst
}

func (h *harness) workflowDoc(t *testing.T, folder string, doc map[string]any) {
	t.Helper()
	dir := filepath.Join(h.flowsDir, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalog.WorkflowDocumentFile), data, 0o644))
}
