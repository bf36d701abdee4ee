package core

import (
	"fmt"
	"os"

	"stitchcore/internal/infra/persistence/memory"
	"stitchcore/internal/infra/persistence/postgres"
	"stitchcore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenOrderStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	STITCHCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	STITCHCORE_SQLITE_PATH: path to sqlite file (default ./stitchcore.db)
//	STITCHCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenOrderStore() (OrderStore, error) {
	driver := os.Getenv("STITCHCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		path := os.Getenv("STITCHCORE_SQLITE_PATH")
		return sqlite.NewStore(path)
	case StoragePostgres:
		dsn := os.Getenv("STITCHCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
