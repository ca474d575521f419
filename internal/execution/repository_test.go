package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/catalog"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	return NewSQLiteRepository(db.X())
}

func running(userID, defID string) *Record {
	return &Record{
		Kind:         catalog.KindTeam,
		DefinitionID: defID,
		UserID:       userID,
		Inputs:       map[string]any{"topic": "ai"},
	}
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := running("u1", "team-1")
	require.NoError(t, repo.Create(ctx, rec))
	assert.Contains(t, rec.ID, "exec-")
	assert.Equal(t, StatusRunning, rec.Status)
	assert.False(t, rec.StartedAt.IsZero())

	got, err := repo.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, map[string]any{"topic": "ai"}, got.Inputs)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Outputs)
	assert.Empty(t, got.InstanceID)
}

func TestRepository_GetScopedToUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := running("u1", "team-1")
	require.NoError(t, repo.Create(ctx, rec))

	_, err := repo.Get(ctx, "u2", rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Get(ctx, "u1", "exec-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Complete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := running("u1", "team-1")
	require.NoError(t, repo.Create(ctx, rec))

	rec.Status = StatusSuccess
	rec.Outputs = map[string]any{"pitch": "hello"}
	rec.EngineExecutionID = "77"
	require.NoError(t, repo.Complete(ctx, rec))

	got, err := repo.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Equal(t, map[string]any{"pitch": "hello"}, got.Outputs)
	assert.Equal(t, "77", got.EngineExecutionID)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestRepository_CompleteOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := running("u1", "team-1")
	require.NoError(t, repo.Create(ctx, rec))

	rec.Status = StatusFailed
	rec.ErrorMessage = "boom"
	require.NoError(t, repo.Complete(ctx, rec))

	rec.Status = StatusSuccess
	assert.ErrorIs(t, repo.Complete(ctx, rec), ErrAlreadyTerminal)

	got, err := repo.Get(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.ErrorMessage)
}

func TestRepository_CompleteErrors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.Complete(ctx, &Record{ID: "exec-missing", Status: StatusSuccess})
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Complete(ctx, &Record{ID: "exec-missing", Status: StatusRunning})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := running("u1", "team-1")
		rec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Create(ctx, rec))
		ids = append(ids, rec.ID)
	}
	other := running("u1", "team-2")
	other.StartedAt = base.Add(-time.Minute)
	require.NoError(t, repo.Create(ctx, other))
	require.NoError(t, repo.Create(ctx, running("u2", "team-1")))

	all, err := repo.List(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, other.ID, all[3].ID)

	byDef, err := repo.List(ctx, Filter{UserID: "u1", DefinitionID: "team-1"})
	require.NoError(t, err)
	assert.Len(t, byDef, 3)

	page, err := repo.List(ctx, Filter{UserID: "u1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)

	all[0].Status = StatusSuccess
	require.NoError(t, repo.Complete(ctx, &all[0]))
	done, err := repo.List(ctx, Filter{UserID: "u1", Status: StatusSuccess})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, ids[2], done[0].ID)

	_, err = repo.List(ctx, Filter{UserID: "u1", Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRepository_DeleteByDefinition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, running("u1", "team-1")))
	require.NoError(t, repo.Create(ctx, running("u2", "team-1")))
	keep := running("u1", "team-2")
	require.NoError(t, repo.Create(ctx, keep))

	n, err := repo.DeleteByDefinition(ctx, catalog.KindTeam, "team-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteByDefinition(ctx, catalog.KindWorkflow, "team-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = repo.Get(ctx, "u1", keep.ID)
	assert.NoError(t, err)
}
