// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/notely/notely/internal/auth"
	"github.com/notely/notely/internal/model"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// appTables are truncated between tests, children first.
var appTables = []string{"notes", "users"}

// TruncateTables empties every application table. Migrations must already
// be applied.
func TruncateTables(ctx context.Context, pool *pgxpool.Pool) error {
	quoted := make([]string, len(appTables))
	for i, table := range appTables {
		quoted[i] = pq.QuoteIdentifier(table)
	}

	query := "TRUNCATE TABLE " + strings.Join(quoted, ", ") + " CASCADE"
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

// TestPassword is the plaintext behind NewTestUser's password hash.
const TestPassword = "Secret123!"

// NewTestUser creates a verified password user with sensible defaults.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	hash, err := auth.HashPassword(TestPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.User{
		ID:           UniqueID(),
		Name:         "Test User",
		Email:        model.NormalizeEmail(email),
		PasswordHash: hash,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestNote creates a note owned by ownerID.
func NewTestNote(t testing.TB, ownerID, title string) *model.Note {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Note{
		ID:        UniqueID(),
		OwnerID:   ownerID,
		Title:     title,
		Content:   "# " + title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// UniqueEmail generates a unique email address for tests.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}

// UniqueID generates a unique ULID for tests.
func UniqueID() string {
	return ulid.Make().String()
}
