package clone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/audit"
	"github.com/nerrad567/divert-core/internal/catalog"
	"github.com/nerrad567/divert-core/internal/engine/n8n"
	"github.com/nerrad567/divert-core/internal/execution"
	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	"github.com/nerrad567/divert-core/internal/registry"
	_ "github.com/nerrad567/divert-core/migrations"
)

type fakeEngine struct {
	mu          sync.Mutex
	createErr   error
	activateErr error
	deleteErr   error
	created     []map[string]any
	deleted     []string
	next        int

	// holdUser's create call signals held and then waits for release.
	holdUser string
	held     chan struct{}
	release  chan struct{}
}

func (f *fakeEngine) CreateWorkflow(_ context.Context, doc map[string]any) (string, error) {
	if name, _ := doc["name"].(string); f.holdUser != "" && strings.HasSuffix(name, "User "+f.holdUser) {
		f.held <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, doc)
	f.next++
	return fmt.Sprintf("%d", 100+f.next), nil
}

func (f *fakeEngine) Activate(context.Context, string) error { return f.activateErr }

func (f *fakeEngine) DeleteWorkflow(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeEngine) WebhookURL(path string) string {
	return "http://n8n.test/webhook/" + path
}

type fixture struct {
	db      *database.DB
	repo    *registry.SQLiteRepository
	records *execution.SQLiteRepository
	audits  *audit.SQLiteRepository
	engine  *fakeEngine
	svc     *Service
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	for _, id := range []string{"u1", "u2"} {
		_, err := db.ExecContext(context.Background(),
			`INSERT INTO users (id, username, display_name, password_hash) VALUES (?, ?, ?, 'x')`, id, id, id)
		require.NoError(t, err)
	}

	f := &fixture{
		db:      db,
		repo:    registry.NewSQLiteRepository(db.X()),
		records: execution.NewSQLiteRepository(db.X()),
		audits:  audit.NewSQLiteRepository(db.DB),
		engine:  &fakeEngine{},
		dir:     t.TempDir(),
	}
	f.svc = NewService(f.dir, f.repo, f.engine, f.records)
	f.svc.SetAuditTrail(audit.NewTrail(f.audits))
	return f
}

func (f *fixture) template(t *testing.T, folder string, services []string) {
	t.Helper()
	dir := filepath.Join(f.dir, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	doc := map[string]any{
		"id":     "tmpl",
		"name":   "Gmail to Drive",
		"active": true,
		"nodes": []any{
			map[string]any{
				"type":        "n8n-nodes-base.webhook",
				"parameters":  map[string]any{"path": "gmail-to-drive-{{WORKFLOW_ID}}"},
				"credentials": map[string]any{"gmailOAuth2": map[string]any{"id": "{{CREDENTIAL_ID_GMAIL}}"}},
			},
			map[string]any{"type": "n8n-nodes-base.googleDrive"},
		},
		"connections": map[string]any{},
	}
	writeJSON(t, filepath.Join(dir, catalog.WorkflowDocumentFile), doc)

	if services != nil {
		writeJSON(t, filepath.Join(dir, catalog.WorkflowDescriptorFile), map[string]any{
			"name":              "Gmail to Drive",
			"description":       "Saves attachments",
			"category":          "Productivity",
			"required_services": services,
		})
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestClone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "gmail_to_drive", []string{"gmail"})

	res, err := f.svc.Clone(ctx, "u1", "gmail_to_drive", CredentialMap{"gmail": "42"})
	require.NoError(t, err)
	assert.Equal(t, "101", res.ExternalID)
	assert.True(t, res.Activated)
	assert.True(t, strings.HasPrefix(res.WebhookURL, "http://n8n.test/webhook/gmail-to-drive-"))
	assert.NotContains(t, res.WebhookURL, "{{")

	require.Len(t, f.engine.created, 1)
	body := f.engine.created[0]
	assert.Equal(t, "Gmail to Drive - User u1", body["name"])
	assert.NotContains(t, body, "id")
	assert.NotContains(t, body, "active")
	node := body["nodes"].([]any)[0].(map[string]any)
	assert.Equal(t, "42", node["credentials"].(map[string]any)["gmailOAuth2"].(map[string]any)["id"])

	def, err := f.repo.GetDefinition(ctx, catalog.KindWorkflow, res.DefinitionID)
	require.NoError(t, err)
	assert.True(t, def.IsClone())
	assert.Equal(t, registry.ClonedDescription("gmail_to_drive"), def.Description)
	assert.Equal(t, "101", def.ExternalID)
	assert.Equal(t, []string{"gmail"}, def.RequiredCredentials)
	assert.Regexp(t, `^gmail_to_drive_user_u1_[0-9a-f]{8}$`, def.FolderName)
	assert.Equal(t, 2, def.NodeCount)

	inst, err := f.repo.GetInstance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "u1", inst.UserID)
	assert.Equal(t, def.ID, inst.DefinitionID)
	assert.True(t, inst.IsActive)
	assert.True(t, inst.IsEnabled)

	logs, err := f.audits.List(ctx, audit.Filter{Action: audit.ActionClone})
	require.NoError(t, err)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, def.ID, logs.Logs[0].EntityID)
}

func TestClone_NoRequiredServices(t *testing.T) {
	f := newFixture(t)
	f.template(t, "plain", []string{})

	_, err := f.svc.Clone(context.Background(), "u1", "plain", nil)
	assert.NoError(t, err)
}

func TestClone_NoDescriptor(t *testing.T) {
	f := newFixture(t)
	f.template(t, "bare", nil)

	_, err := f.svc.Clone(context.Background(), "u1", "bare", CredentialMap{})
	assert.NoError(t, err)
}

func TestClone_MissingCredentials(t *testing.T) {
	f := newFixture(t)
	f.template(t, "gmail_to_drive", []string{"gmail", "google_drive"})

	_, err := f.svc.Clone(context.Background(), "u1", "gmail_to_drive", CredentialMap{"google_drive": "1"})
	require.ErrorIs(t, err, execution.ErrMissingCredentials)

	var missing *execution.MissingCredentialsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"gmail"}, missing.Services)
	assert.Empty(t, f.engine.created)
}

func TestClone_TemplateNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Clone(context.Background(), "u1", "nope", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	_, err = f.svc.Clone(context.Background(), "u1", "../etc", nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestClone_AlreadyCloned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})

	_, err := f.svc.Clone(ctx, "u1", "digest", nil)
	require.NoError(t, err)

	_, err = f.svc.Clone(ctx, "u1", "digest", nil)
	assert.ErrorIs(t, err, ErrAlreadyCloned)
	assert.Len(t, f.engine.created, 1)

	_, err = f.svc.Clone(ctx, "u2", "digest", nil)
	assert.NoError(t, err, "other users clone independently")
}

func TestClone_SlowEngineCallDoesNotBlockOtherUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})
	f.engine.holdUser = "u1"
	f.engine.held = make(chan struct{}, 1)
	f.engine.release = make(chan struct{})

	u1Done := make(chan error, 1)
	go func() {
		_, err := f.svc.Clone(ctx, "u1", "digest", nil)
		u1Done <- err
	}()
	<-f.engine.held

	u2Done := make(chan error, 1)
	go func() {
		_, err := f.svc.Clone(ctx, "u2", "digest", nil)
		u2Done <- err
	}()

	select {
	case err := <-u2Done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(f.engine.release)
		t.Fatal("u2 waited on u1's pending engine call")
	}

	close(f.engine.release)
	assert.NoError(t, <-u1Done)
}

func TestClone_ConcurrentSameUserClonesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Clone(ctx, "u1", "digest", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyCloned):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, dup)
	assert.Len(t, f.engine.created, 1)
	assert.Empty(t, f.svc.locks, "released locks are dropped")
}

func TestClone_ActivationFailureIsLenient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})
	f.engine.activateErr = errors.New("missing trigger credentials")

	res, err := f.svc.Clone(ctx, "u1", "digest", nil)
	require.NoError(t, err)
	assert.False(t, res.Activated)

	inst, err := f.repo.GetInstance(ctx, res.InstanceID)
	require.NoError(t, err)
	assert.False(t, inst.IsEnabled)
}

func TestClone_EngineUnavailable(t *testing.T) {
	f := newFixture(t)
	f.template(t, "digest", []string{})
	f.engine.createErr = fmt.Errorf("%w: connection refused", n8n.ErrUnreachable)

	_, err := f.svc.Clone(context.Background(), "u1", "digest", nil)
	assert.ErrorIs(t, err, execution.ErrEngineUnavailable)

	clones, err := f.repo.ListDefinitions(context.Background(), catalog.KindWorkflow, registry.DefinitionFilter{})
	require.NoError(t, err)
	assert.Empty(t, clones)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})

	res, err := f.svc.Clone(ctx, "u1", "digest", nil)
	require.NoError(t, err)

	rec := &execution.Record{
		Kind:         catalog.KindWorkflow,
		DefinitionID: res.DefinitionID,
		InstanceID:   res.InstanceID,
		UserID:       "u1",
	}
	require.NoError(t, f.records.Create(ctx, rec))

	assert.ErrorIs(t, f.svc.Delete(ctx, "u2", res.InstanceID), registry.ErrInstanceNotFound)

	require.NoError(t, f.svc.Delete(ctx, "u1", res.InstanceID))
	assert.Equal(t, []string{res.ExternalID}, f.engine.deleted)

	_, err = f.repo.GetDefinition(ctx, catalog.KindWorkflow, res.DefinitionID)
	assert.ErrorIs(t, err, registry.ErrDefinitionNotFound)
	_, err = f.repo.GetInstance(ctx, res.InstanceID)
	assert.ErrorIs(t, err, registry.ErrInstanceNotFound)
	_, err = f.records.Get(ctx, "u1", rec.ID)
	assert.ErrorIs(t, err, execution.ErrNotFound)

	// The template can be cloned again
	_, err = f.svc.Clone(ctx, "u1", "digest", nil)
	assert.NoError(t, err)
}

func TestDelete_RemoteFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "digest", []string{})

	res, err := f.svc.Clone(ctx, "u1", "digest", nil)
	require.NoError(t, err)

	f.engine.deleteErr = &n8n.StatusError{Op: "delete workflow", Code: 500}
	require.NoError(t, f.svc.Delete(ctx, "u1", res.InstanceID))

	_, err = f.repo.GetDefinition(ctx, catalog.KindWorkflow, res.DefinitionID)
	assert.ErrorIs(t, err, registry.ErrDefinitionNotFound)
}

func TestDelete_NotClone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := &registry.Definition{Kind: catalog.KindWorkflow, FolderName: "digest", Name: "Digest", Category: "Demo", IsActive: true}
	require.NoError(t, f.repo.CreateDefinition(ctx, def))
	inst := &registry.Instance{UserID: "u1", Kind: catalog.KindWorkflow, DefinitionID: def.ID, Name: "Digest", IsActive: true}
	require.NoError(t, f.repo.CreateInstance(ctx, inst))

	assert.ErrorIs(t, f.svc.Delete(ctx, "u1", inst.ID), ErrNotClone)
	assert.Empty(t, f.engine.deleted)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.template(t, "gmail_to_drive", []string{"gmail", "google_drive"})

	def := &registry.Definition{Kind: catalog.KindWorkflow, FolderName: "gmail_to_drive", Name: "Gmail to Drive", Category: "Productivity", IsActive: true}
	require.NoError(t, f.repo.CreateDefinition(ctx, def))

	_, err := f.svc.Clone(ctx, "u1", "gmail_to_drive", CredentialMap{"gmail": "1", "google_drive": "2"})
	require.NoError(t, err)

	templates, err := f.svc.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1, "clones are not templates")
	assert.Equal(t, "gmail_to_drive", templates[0].FolderName)
	assert.Equal(t, []string{"gmail", "google_drive"}, templates[0].RequiredServices)
}
