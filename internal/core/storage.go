package core

import (
	"fmt"
	"os"

	"mellon/internal/infra/persistence/memory"
	"mellon/internal/infra/persistence/postgres"
	"mellon/internal/infra/persistence/sqlite"
	"mellon/pkg/domain"
)

// StorageDriver identifies a persistent store backend.
type StorageDriver string

const (
	// StorageMemory keeps all documents in process memory.
	StorageMemory StorageDriver = "memory"
	// StorageSQLite snapshots the document state into a sqlite file.
	StorageSQLite StorageDriver = "sqlite"
	// StoragePostgres snapshots the document state into postgres.
	StoragePostgres StorageDriver = "postgres"
)

// OpenPersistentStore selects a store implementation using environment
// variables:
//
//	MELLON_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	MELLON_SQLITE_PATH:    sqlite file path (default ./mellon.db)
//	MELLON_POSTGRES_DSN:   postgres connection string (required for postgres)
func OpenPersistentStore() (domain.PersistentStore, error) {
	driver := os.Getenv("MELLON_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("MELLON_SQLITE_PATH"))
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("MELLON_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
