package testutil

import (
	"testing"

	"sealbox/internal/database"
	"sealbox/internal/sb"
)

// NewTestDatabase creates an in-memory SQLite database with all migrations
// applied. It is closed when the test completes.
func NewTestDatabase(t testing.TB) sb.Database {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		t.Fatalf("migrating database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewTestArena creates an empty copy-on-write in-memory database.
func NewTestArena(t testing.TB) sb.Database {
	t.Helper()
	db := database.NewArenaDatabase()
	t.Cleanup(func() { db.Close() })
	return db
}

// Backends runs fn once against each database backend as a subtest.
func Backends(t *testing.T, fn func(t *testing.T, db sb.Database)) {
	t.Helper()
	for _, name := range []string{"sqlite", "arena"} {
		t.Run(name, func(t *testing.T) {
			if name == "sqlite" {
				fn(t, NewTestDatabase(t))
			} else {
				fn(t, NewTestArena(t))
			}
		})
	}
}
