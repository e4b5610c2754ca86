//go:build integration

package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/notely/notely/internal/testutil"
)

// ============================================================================
// Migration Integration Tests
// ============================================================================

func TestIntegrationMigration_ApplyAllTables(t *testing.T) {
	ctx, repo := newIntegrationRepo(t)

	for _, table := range []string{"users", "notes", "goose_db_version"} {
		t.Run(table, func(t *testing.T) {
			exists, err := tableExists(ctx, repo.Pool(), table)
			if err != nil {
				t.Fatalf("tableExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Table %q should exist after migrations", table)
			}
		})
	}
}

func TestIntegrationMigration_UsersTableSchema(t *testing.T) {
	ctx, repo := newIntegrationRepo(t)

	expectedColumns := []string{
		"id",
		"name",
		"email",
		"password_hash",
		"google_id",
		"otp_hash",
		"otp_expires_at",
		"verified",
		"created_at",
		"updated_at",
	}

	for _, col := range expectedColumns {
		t.Run(col, func(t *testing.T) {
			exists, err := columnExists(ctx, repo.Pool(), "users", col)
			if err != nil {
				t.Fatalf("columnExists failed: %v", err)
			}
			if !exists {
				t.Errorf("Column %q should exist in users table", col)
			}
		})
	}
}

func TestIntegrationMigration_Idempotent(t *testing.T) {
	ctx, _ := newIntegrationRepo(t)
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	if err := Migrate(ctx, dbURL); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestIntegrationMigration_CredentialConstraint(t *testing.T) {
	ctx, repo := newIntegrationRepo(t)

	_, err := repo.Pool().Exec(ctx, `
		INSERT INTO users (id, name, email) VALUES ('01HZZZZZZZZZZZZZZZZZZZZZZZ', 'x', 'nocreds@example.com')
	`)
	if err == nil {
		t.Fatal("expected check constraint violation for user without credentials")
	}
}

// ============================================================================
// Helpers
// ============================================================================

func tableExists(ctx context.Context, pool *pgxpool.Pool, tableName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = $1
		)
	`, tableName).Scan(&exists)
	return exists, err
}

func columnExists(ctx context.Context, pool *pgxpool.Pool, tableName, columnName string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.columns
			WHERE table_schema = 'public'
			AND table_name = $1
			AND column_name = $2
		)
	`, tableName, columnName).Scan(&exists)
	return exists, err
}

// newIntegrationRepo migrates and empties the test database, holding the
// shared advisory lock for the duration of the test.
func newIntegrationRepo(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	repo, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := Migrate(ctx, dbURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := testutil.TruncateTables(ctx, repo.Pool()); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return ctx, repo
}
