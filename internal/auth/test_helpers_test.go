package auth

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	_ "github.com/nerrad567/divert-core/migrations"
)

// testDB opens an in-memory database with the full schema applied.
func testDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.X()
}

// createTestUser inserts an active user with the given password.
func createTestUser(t *testing.T, repo UserRepository, username, password string, role Role) *User {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user := &User{
		Username:     username,
		DisplayName:  username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create(%s) error = %v", username, err)
	}
	return user
}
