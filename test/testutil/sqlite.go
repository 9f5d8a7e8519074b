package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/mem/recordstore/migrations"
)

// CreateTempSQLite creates a migrated SQLite database in a per-test directory.
// The database is closed when the test finishes.
func CreateTempSQLite(t *testing.T) (*sqlx.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.sqlite")

	db, err := sqlx.Open("sqlite3", dbPath)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	require.NoError(t, migrations.Up(db.DB, migrations.DriverSQLite))

	t.Cleanup(func() {
		db.Close()
	})

	return db, dbPath
}
