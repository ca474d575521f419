package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/events"
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

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func writeTeam(t *testing.T, root, folder, name string) {
	t.Helper()
	writeJSON(t, filepath.Join(root, folder, catalog.TeamDescriptorFile), map[string]any{
		"name": name, "description": name + " team", "category": "Support",
	})
}

func writeWorkflow(t *testing.T, root, folder, name string) {
	t.Helper()
	writeJSON(t, filepath.Join(root, folder, catalog.WorkflowDescriptorFile), map[string]any{
		"name": name, "description": name + " flow", "category": "Sales",
	})
	writeJSON(t, filepath.Join(root, folder, catalog.WorkflowDocumentFile), map[string]any{
		"nodes": []map[string]any{{"type": "n8n-nodes-base.telegram"}},
	})
}

type fixture struct {
	coord     *Coordinator
	repo      *registry.SQLiteRepository
	auditRepo *audit.SQLiteRepository
	recorder  *events.Recorder
	teamsDir  string
	flowsDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	teamsDir := filepath.Join(t.TempDir(), "crews")
	flowsDir := filepath.Join(t.TempDir(), "workflows")
	require.NoError(t, os.MkdirAll(teamsDir, 0o755))
	require.NoError(t, os.MkdirAll(flowsDir, 0o755))

	repo := registry.NewSQLiteRepository(db.X())
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := &events.Recorder{}

	coord := NewCoordinator(
		catalog.NewTeamScanner(teamsDir),
		catalog.NewWorkflowScanner(flowsDir),
		registry.NewReconciler(repo),
	)
	coord.SetPublisher(recorder)
	coord.SetAuditTrail(audit.NewTrail(auditRepo))

	return &fixture{coord: coord, repo: repo, auditRepo: auditRepo, recorder: recorder, teamsDir: teamsDir, flowsDir: flowsDir}
}

func TestSyncAll_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	writeTeam(t, f.teamsDir, "support_crew", "Support Crew")
	writeTeam(t, f.teamsDir, "research_crew", "Research Crew")
	writeWorkflow(t, f.flowsDir, "lead_capture", "Lead Capture")
	require.NoError(t, os.MkdirAll(filepath.Join(f.teamsDir, "__pycache__"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.teamsDir, "broken"), 0o755))

	summary := f.coord.SyncAll(ctx)
	assert.True(t, summary.OK(), "errors: %v", summary.Errors)
	assert.Equal(t, registry.Result{Added: 2, Total: 2}, summary.Teams)
	assert.Equal(t, registry.Result{Added: 1, Total: 1}, summary.Workflows)
	require.Len(t, summary.Warnings, 1)
	assert.Equal(t, "broken", summary.Warnings[0].Folder)
	assert.Equal(t, audit.SourceAPI, summary.Source)

	wf, err := f.repo.GetDefinitionByFolder(ctx, catalog.KindWorkflow, "lead_capture")
	require.NoError(t, err)
	assert.Equal(t, []string{"telegram"}, wf.Integrations)
	assert.Equal(t, 1, wf.NodeCount)

	// Idempotent.
	again := f.coord.Sync(ctx, audit.SourceCLI)
	assert.Equal(t, registry.Result{Total: 2}, again.Teams)
	assert.Equal(t, registry.Result{Total: 1}, again.Workflows)

	assert.Equal(t, []events.Type{events.DiscoverySynced, events.DiscoverySynced}, f.recorder.Types())
	data, err := f.recorder.Events()[0].Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, data.Teams.Added)
	assert.Equal(t, 1, data.Teams.Warnings)

	logs, err := f.auditRepo.List(ctx, audit.Filter{Action: audit.ActionSync})
	require.NoError(t, err)
	assert.Equal(t, 2, logs.Total)

	last := f.coord.Last()
	require.NotNil(t, last)
	assert.Equal(t, audit.SourceCLI, last.Source)
}

func TestSyncAll_MissingRootsAreWarnings(t *testing.T) {
	db := setupTestDB(t)
	coord := NewCoordinator(
		catalog.NewTeamScanner(filepath.Join(t.TempDir(), "nope")),
		catalog.NewWorkflowScanner(filepath.Join(t.TempDir(), "nope")),
		registry.NewReconciler(registry.NewSQLiteRepository(db.X())),
	)

	summary := coord.SyncAll(context.Background())
	assert.True(t, summary.OK())
	assert.Len(t, summary.Warnings, 2)
	assert.Equal(t, registry.Result{}, summary.Teams)
}

type panicScanner struct{ kind catalog.Kind }

func (p panicScanner) Kind() catalog.Kind { return p.kind }
func (p panicScanner) Scan(context.Context) catalog.Result {
	panic("disk on fire")
}

type staticScanner struct {
	kind    catalog.Kind
	entries []catalog.Entry
}

func (s staticScanner) Kind() catalog.Kind { return s.kind }
func (s staticScanner) Scan(context.Context) catalog.Result {
	return catalog.Result{Kind: s.kind, Entries: s.entries}
}

type failingReconciler struct {
	failKind catalog.Kind
	calls    []catalog.Kind
}

func (r *failingReconciler) Reconcile(_ context.Context, kind catalog.Kind, entries []catalog.Entry) (registry.Result, error) {
	r.calls = append(r.calls, kind)
	if kind == r.failKind {
		return registry.Result{Total: len(entries)}, errors.New("database is locked")
	}
	return registry.Result{Added: len(entries), Total: len(entries)}, nil
}

func TestSyncAll_StageIsolation(t *testing.T) {
	t.Run("panicking team stage", func(t *testing.T) {
		rec := &failingReconciler{}
		coord := NewCoordinator(
			panicScanner{kind: catalog.KindTeam},
			staticScanner{kind: catalog.KindWorkflow, entries: []catalog.Entry{{FolderName: "a"}}},
			rec,
		)
		summary := coord.SyncAll(context.Background())
		require.Len(t, summary.Errors, 1)
		assert.Contains(t, summary.Errors[0], "team: panic")
		assert.Equal(t, 1, summary.Workflows.Added, "workflow stage still runs")
		assert.Equal(t, []catalog.Kind{catalog.KindWorkflow}, rec.calls)
	})

	t.Run("failing team reconcile", func(t *testing.T) {
		rec := &failingReconciler{failKind: catalog.KindTeam}
		coord := NewCoordinator(
			staticScanner{kind: catalog.KindTeam, entries: []catalog.Entry{{FolderName: "x"}, {FolderName: "y"}}},
			staticScanner{kind: catalog.KindWorkflow, entries: []catalog.Entry{{FolderName: "a"}}},
			rec,
		)
		summary := coord.SyncAll(context.Background())
		require.Len(t, summary.Errors, 1)
		assert.Contains(t, summary.Errors[0], "database is locked")
		assert.Equal(t, registry.Result{}, summary.Teams, "a failed stage is left at zero counts")
		assert.Equal(t, 1, summary.Workflows.Added)
		assert.False(t, summary.OK())
	})
}

// slowReconciler records the maximum number of concurrent calls.
type slowReconciler struct {
	active, peak atomic.Int32
}

func (r *slowReconciler) Reconcile(context.Context, catalog.Kind, []catalog.Entry) (registry.Result, error) {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	r.active.Add(-1)
	return registry.Result{}, nil
}

func TestSyncAll_Serialised(t *testing.T) {
	rec := &slowReconciler{}
	coord := NewCoordinator(staticScanner{kind: catalog.KindTeam}, staticScanner{kind: catalog.KindWorkflow}, rec)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coord.SyncAll(context.Background())
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, rec.peak.Load())
}

func TestSyncAll_ClosedDatabaseLeavesZeroCounts(t *testing.T) {
	db := setupTestDB(t)
	teamsDir := t.TempDir()
	writeTeam(t, teamsDir, "triage", "Triage")
	writeTeam(t, teamsDir, "onboarding", "Onboarding")

	rec := registry.NewReconciler(registry.NewSQLiteRepository(db.X()))
	coord := NewCoordinator(catalog.NewTeamScanner(teamsDir), nil, rec)
	require.NoError(t, db.Close())

	summary := coord.SyncAll(context.Background())
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, registry.Result{}, summary.Teams)
	assert.False(t, summary.OK())
}
