package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/divert-core/internal/catalog"
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

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	return NewSQLiteRepository(db.X())
}

func testEntry(folder, name, category string) catalog.Entry {
	return catalog.Entry{
		FolderName:          folder,
		Name:                name,
		Description:         name + " description",
		Category:            category,
		Tags:                []string{"demo"},
		RequiredCredentials: []string{},
	}
}

func createDefinition(t *testing.T, repo *SQLiteRepository, kind catalog.Kind, folder, category string) *Definition {
	t.Helper()
	def := &Definition{
		Kind:       kind,
		FolderName: folder,
		Name:       folder,
		Category:   category,
		IsActive:   true,
	}
	require.NoError(t, repo.CreateDefinition(context.Background(), def))
	return def
}
