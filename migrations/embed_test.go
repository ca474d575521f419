package migrations_test

import (
	"context"
	"testing"

	"github.com/nerrad567/divert-core/internal/infrastructure/database"
	_ "github.com/nerrad567/divert-core/migrations"
)

func TestEmbeddedSchemaApplies(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for _, table := range []string{
		"users", "user_credentials", "teams", "workflows",
		"automation_instances", "executions", "audit_logs",
	} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	// Second run is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'teams'",
	).Scan(&count); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if count != 0 {
		t.Error("teams table still present after MigrateDown")
	}
}

func TestInstanceConstraints(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	const now = "2026-10-19T12:00:00Z"
	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			t.Fatalf("exec %q: %v", query, err)
		}
	}
	mustExec(`INSERT INTO users (id, username, display_name, password_hash) VALUES ('u1', 'alice', 'Alice', 'x')`)
	mustExec(`INSERT INTO teams (id, folder_name, name, created_at, updated_at) VALUES ('t1', 'acme_pitch', 'Acme Pitch', ?, ?)`, now, now)
	mustExec(`INSERT INTO workflows (id, folder_name, name, created_at, updated_at) VALUES ('w1', 'lead_router', 'Lead Router', ?, ?)`, now, now)

	insert := `INSERT INTO automation_instances (id, user_id, team_id, workflow_id, name, is_active, created_at, updated_at)
	           VALUES (?, 'u1', ?, ?, 'mine', ?, ?, ?)`

	t.Run("both references rejected", func(t *testing.T) {
		if _, err := db.ExecContext(ctx, insert, "i0", "t1", "w1", 1, now, now); err == nil {
			t.Error("expected CHECK violation for team_id and workflow_id both set")
		}
	})

	t.Run("neither reference rejected", func(t *testing.T) {
		if _, err := db.ExecContext(ctx, insert, "i0", nil, nil, 1, now, now); err == nil {
			t.Error("expected CHECK violation for no reference")
		}
	})

	t.Run("one active instance per pair", func(t *testing.T) {
		mustExec(insert, "i1", "t1", nil, 1, now, now)
		if _, err := db.ExecContext(ctx, insert, "i2", "t1", nil, 1, now, now); err == nil {
			t.Error("expected unique violation for a second active instance")
		}
		// Inactive rows do not count.
		mustExec(insert, "i3", "t1", nil, 0, now, now)
	})
}
