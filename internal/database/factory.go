package database

import (
	"fmt"
	"path/filepath"

	"sealbox/internal/config"
	"sealbox/internal/sb"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
// SQLite databases are migrated to the latest schema on open. The memory and
// arena backends do not survive the process and serve tests.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, storeID string) (sb.Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return openMigrated(filepath.Join(cfg.DataDir, storeID+".db"))
	case "memory":
		return openMigrated(":memory:")
	case "arena":
		return NewArenaDatabase(), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// openMigrated opens the SQLite database at path and applies all migrations.
func openMigrated(path string) (sb.Database, error) {
	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return db, nil
}
