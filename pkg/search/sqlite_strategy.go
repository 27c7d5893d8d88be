package search

import (
	"context"
	"log/slog"

	"github.com/dan-solli/kgstore/pkg/store"
)

// SQLiteStrategy searches a SQLite-backed store. SQLite has no similarity
// operator, so fuzzy search always runs client side; bulk retrieval is paginated
// in the database.
type SQLiteStrategy struct {
	baseStrategy
}

var _ PaginatedStrategy = (*SQLiteStrategy)(nil)

var sqliteEntityQueries = entityQueries{
	all: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = ?
		ORDER BY updated_at DESC, name ASC
		LIMIT ?`,
	page: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = ?
		ORDER BY updated_at DESC, name ASC
		LIMIT ? OFFSET ?`,
	count: "SELECT COUNT(*) FROM entities WHERE project = ?",
}

// NewSQLiteStrategy creates the SQLite search strategy.
func NewSQLiteStrategy(provider store.SQLProvider, cfg Config, limits Limits, logger *slog.Logger) *SQLiteStrategy {
	return &SQLiteStrategy{
		baseStrategy: newBaseStrategy(provider, cfg, limits, sqliteEntityQueries, logger),
	}
}

// Capabilities reports bulk pagination only.
func (s *SQLiteStrategy) Capabilities() Capabilities {
	return Capabilities{PaginatedBulk: true}
}

// CanUseDatabase is always false for SQLite.
func (s *SQLiteStrategy) CanUseDatabase() bool {
	return false
}

// SearchDatabase returns ErrDatabaseSearchUnsupported.
func (s *SQLiteStrategy) SearchDatabase(ctx context.Context, queries []string, threshold float64, project string) ([]store.Entity, error) {
	return nil, ErrDatabaseSearchUnsupported
}

// SearchDatabasePaginated returns ErrDatabaseSearchUnsupported.
func (s *SQLiteStrategy) SearchDatabasePaginated(ctx context.Context, query string, threshold float64, project string, page PaginationOptions) ([]store.Entity, int, error) {
	return nil, 0, ErrDatabaseSearchUnsupported
}

// SearchExactPaginated returns ErrDatabaseSearchUnsupported.
func (s *SQLiteStrategy) SearchExactPaginated(ctx context.Context, query string, project string, page PaginationOptions) ([]store.Entity, int, error) {
	return nil, 0, ErrDatabaseSearchUnsupported
}
