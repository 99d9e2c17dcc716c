package testutil

import (
	"testing"

	"kbwatch/internal/database"
	"kbwatch/internal/database/migrations"
)

// NewTestStore creates an in-memory SQLite store with all baseline
// migrations applied. The store is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	db, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	// An in-memory SQLite database exists per connection; pin the pool
	// to one so the schema and the queries see the same database.
	db.SetMaxOpenConns(1)

	if err := migrations.Up(db); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	store := database.NewSQLiteStoreFromDB(db)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
