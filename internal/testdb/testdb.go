// Package testdb hands tests a migrated SQLite database in a temp directory.
package testdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"agrimarket/pkg/storage/sqlstore"
)

// Open returns a fresh database closed at test cleanup.
func Open(tb testing.TB) *sqlx.DB {
	tb.Helper()
	ctx := context.Background()
	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:          "sqlite",
		DSN:             filepath.Join(tb.TempDir(), "agrimarket.db"),
		ConnectAttempts: 1,
	}, zaptest.NewLogger(tb).Sugar())
	require.NoError(tb, err)
	require.NoError(tb, sqlstore.Migrate(ctx, db))
	tb.Cleanup(func() { db.Close() })
	return db
}

// SeedUser inserts a user row so foreign keys on other tables are satisfied.
func SeedUser(tb testing.TB, db *sqlx.DB, id, role string) {
	tb.Helper()
	_, err := db.Exec(
		"INSERT INTO users (id, name, phone, role, pin_hash, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, "user "+id, "phone-"+id, role, "-", time.Now().UTC())
	require.NoError(tb, err)
}
