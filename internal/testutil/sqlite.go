// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/quotaguard/internal/config"
	"github.com/aiox-platform/quotaguard/internal/database"
	"github.com/aiox-platform/quotaguard/internal/storage/sqlite"
)

// NewSQLiteStore returns a store backed by a freshly migrated SQLite file in
// a temporary directory. The database is closed when the test ends.
func NewSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "quotaguard.db")
	require.NoError(t, database.RunMigrations(config.DriverSQLite, database.SQLiteMigrationURL(path)))

	db, err := database.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return sqlite.New(db)
}
