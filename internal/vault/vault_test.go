package vault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	_ "github.com/nerrad567/divert-core/migrations"
)

// setupTestDB opens an in-memory database with the full schema applied.
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

func newTestVault(t *testing.T) (*Vault, *database.DB) {
	t.Helper()
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")

	v, err := New(NewSQLiteRepository(db.X()), testKey(9))
	require.NoError(t, err)
	return v, db
}

func TestVault_StoreFetch(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	cred, err := v.Store(ctx, "u1", "telegram", KindAPIKey, map[string]string{"bot_token": "123:abc"})
	require.NoError(t, err)
	assert.Equal(t, "telegram", cred.ServiceName)
	assert.Equal(t, StatusNotConfigured, cred.Status)
	assert.True(t, cred.IsActive)

	got, err := v.Fetch(ctx, "u1", "telegram")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bot_token": "123:abc"}, got)

	// Scoped by user.
	_, err = v.Fetch(ctx, "u2", "telegram")
	require.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestVault_StoreOverwritesAndReactivates(t *testing.T) {
	v, db := newTestVault(t)
	ctx := context.Background()

	first, err := v.Store(ctx, "u1", "slack", KindOAuth, map[string]string{"token": "old"})
	require.NoError(t, err)
	require.NoError(t, v.SetStatus(ctx, "u1", "slack", StatusConnected))
	require.NoError(t, v.Remove(ctx, "u1", "slack"))

	_, err = v.Fetch(ctx, "u1", "slack")
	require.ErrorIs(t, err, ErrCredentialNotFound)

	second, err := v.Store(ctx, "u1", "slack", KindOAuth, map[string]string{"token": "new"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "upsert must reuse the existing row")
	assert.True(t, second.IsActive)
	assert.Equal(t, StatusNotConfigured, second.Status)
	assert.Nil(t, second.LastTested)

	var rows int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_credentials WHERE user_id = 'u1' AND service_name = 'slack'").Scan(&rows))
	assert.Equal(t, 1, rows)

	got, err := v.Fetch(ctx, "u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "new", got["token"])
}

func TestVault_ValidateRequired(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	got, err := v.ValidateRequired(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = v.ValidateRequired(ctx, "u1", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"x": false}, got)

	_, err = v.Store(ctx, "u1", "x", KindAPIKey, map[string]string{"api_key": "k"})
	require.NoError(t, err)

	got, err = v.ValidateRequired(ctx, "u1", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"x": true, "y": false}, got)
	assert.Equal(t, []string{"y"}, Missing([]string{"x", "y"}, got))

	require.NoError(t, v.Remove(ctx, "u1", "x"))
	got, err = v.ValidateRequired(ctx, "u1", []string{"x"})
	require.NoError(t, err)
	assert.False(t, got["x"])
}

func TestVault_FetchCorrupt(t *testing.T) {
	v, db := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "u1", "openai", KindAPIKey, map[string]string{"api_key": "sk"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "UPDATE user_credentials SET encrypted_blob = 'AAAA' WHERE service_name = 'openai'")
	require.NoError(t, err)

	got, err := v.Fetch(ctx, "u1", "openai")
	require.ErrorIs(t, err, ErrCredentialCorrupt)
	assert.Nil(t, got)
}

func TestVault_ListAndStatus(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "u1", "telegram", KindAPIKey, map[string]string{"bot_token": "t"})
	require.NoError(t, err)
	_, err = v.Store(ctx, "u1", "discord", KindAPIKey, map[string]string{"bot_token": "d"})
	require.NoError(t, err)

	require.NoError(t, v.SetStatus(ctx, "u1", "telegram", StatusError))
	require.ErrorIs(t, v.SetStatus(ctx, "u1", "telegram", Status("bogus")), ErrInvalidStatus)
	require.ErrorIs(t, v.SetStatus(ctx, "u1", "gmail", StatusConnected), ErrCredentialNotFound)

	creds, err := v.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "discord", creds[0].ServiceName)
	assert.Equal(t, "telegram", creds[1].ServiceName)
	assert.Equal(t, StatusError, creds[1].Status)
	assert.NotNil(t, creds[1].LastTested)
}

func TestVault_InvalidInput(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	_, err := v.Store(ctx, "u1", "telegram", Kind("password"), map[string]string{})
	require.ErrorIs(t, err, ErrInvalidKind)

	require.ErrorIs(t, v.Remove(ctx, "u1", "never-stored"), ErrCredentialNotFound)
}
