package store

import (
	"fmt"
	"log/slog"
)

// New creates the provider matching cfg.Type.
// - StorageTypeSQLite: SQLite file or in-memory database, client-side fuzzy search only
// - StorageTypePostgreSQL: PostgreSQL with pg_trgm similarity search
func New(cfg Config, logger *slog.Logger) (SQLProvider, error) {
	switch cfg.Type {
	case StorageTypeSQLite:
		return NewSQLiteProvider(cfg, logger)
	case StorageTypePostgreSQL:
		return NewPostgresProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q (supported: sqlite, postgresql)", ErrInvalidConfig, cfg.Type)
	}
}
