// Package testing provides testing utilities and helpers for the factorfit project.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/factorfit/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a per-test temporary
// directory and applies the embedded schema for name ("cache" applies
// cache_schema.sql; unknown names get an empty database). The returned
// cleanup closes the connection and is also registered with t.Cleanup, so
// calling it is optional and idempotent.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	profile := database.ProfileStandard
	if name == "cache" {
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	var closed bool
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
	t.Cleanup(cleanup)

	return db, cleanup
}

// NewTestDBWithSchema creates a test database and executes schema on it
// instead of the embedded one.
func NewTestDBWithSchema(t *testing.T, name string, schema string) (*database.DB, func()) {
	t.Helper()

	db, cleanup := NewTestDB(t, name+"_custom")
	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			cleanup()
			t.Fatalf("Failed to execute custom schema for test database %s: %v", name, err)
		}
	}
	return db, cleanup
}
