package search

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dan-solli/kgstore/pkg/store"
)

// Capabilities declares which paginated operations a strategy answers in the database.
type Capabilities struct {
	PaginatedSearch bool // fuzzy single-term search with LIMIT/OFFSET
	PaginatedExact  bool // exact single-term search with LIMIT/OFFSET
	PaginatedBulk   bool // bulk entity retrieval with LIMIT/OFFSET
}

// Strategy is the search capability of one storage backend.
type Strategy interface {
	// Name identifies the backend ("sqlite", "postgresql").
	Name() string
	Capabilities() Capabilities

	// CanUseDatabase reports whether the backend has native similarity search
	// and the configuration allows it.
	CanUseDatabase() bool

	// DefaultThreshold is the fuzzy threshold used when a call does not override it.
	DefaultThreshold() float64

	// ClientFallbackEnabled reports whether failed database searches may be
	// answered by SearchClientSide.
	ClientFallbackEnabled() bool

	// SearchDatabase runs native similarity search for each query in order and
	// merges the results with first-seen deduplication by name.
	SearchDatabase(ctx context.Context, queries []string, threshold float64, project string) ([]store.Entity, error)

	// SearchClientSide matches queries against already loaded entities.
	// A nil threshold means the configured client threshold.
	SearchClientSide(entities []store.Entity, queries []string, threshold *float64) []store.Entity

	// GetAllEntities loads up to Limits.MaxClientEntities entities, most recently
	// updated first, then by name.
	GetAllEntities(ctx context.Context, project string) ([]store.Entity, error)
}

// PaginatedStrategy is implemented by strategies that declare at least one
// paginated capability. Methods whose capability is false return an error.
type PaginatedStrategy interface {
	Strategy
	SearchDatabasePaginated(ctx context.Context, query string, threshold float64, project string, page PaginationOptions) ([]store.Entity, int, error)
	SearchExactPaginated(ctx context.Context, query string, project string, page PaginationOptions) ([]store.Entity, int, error)
	GetEntitiesPaginated(ctx context.Context, project string, page PaginationOptions) ([]store.Entity, int, error)
}

// NewStrategy returns the strategy matching provider.Type().
func NewStrategy(provider store.SQLProvider, cfg Config, limits Limits, logger *slog.Logger) (PaginatedStrategy, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch provider.Type() {
	case store.StorageTypeSQLite:
		return NewSQLiteStrategy(provider, cfg, limits, logger), nil
	case store.StorageTypePostgreSQL:
		return NewPostgresStrategy(provider, cfg, limits, logger), nil
	default:
		return nil, fmt.Errorf("%w: no search strategy for storage type %q", store.ErrInvalidConfig, provider.Type())
	}
}

// entityQueries are the backend-specific statements shared by every strategy.
type entityQueries struct {
	all   string // args: project, limit
	page  string // args: project, limit, offset
	count string // args: project
}

// baseStrategy holds what every backend shares: client-side matching and bulk loading.
type baseStrategy struct {
	provider store.SQLProvider
	cfg      Config
	limits   Limits
	matcher  *Matcher
	queries  entityQueries
	logger   *slog.Logger
}

func newBaseStrategy(provider store.SQLProvider, cfg Config, limits Limits, queries entityQueries, logger *slog.Logger) baseStrategy {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cfg = cfg.withDefaults()
	return baseStrategy{
		provider: provider,
		cfg:      cfg,
		limits:   limits.normalized(),
		matcher:  NewMatcher(cfg.Client),
		queries:  queries,
		logger:   logger.With("strategy", string(provider.Type())),
	}
}

// Name returns the backend name.
func (b *baseStrategy) Name() string {
	return string(b.provider.Type())
}

// DefaultThreshold returns the configured fuzzy threshold.
func (b *baseStrategy) DefaultThreshold() float64 {
	return b.cfg.FuzzyThreshold
}

// ClientFallbackEnabled reports whether failed database searches may be answered client side.
func (b *baseStrategy) ClientFallbackEnabled() bool {
	return b.cfg.EnableClientFallback
}

func (b *baseStrategy) clientThreshold(threshold *float64) float64 {
	switch {
	case threshold != nil:
		return *threshold
	case b.cfg.Client.Threshold != nil:
		return *b.cfg.Client.Threshold
	default:
		return b.cfg.FuzzyThreshold
	}
}

// SearchClientSide scores entities chunk by chunk so that a single pass never holds
// more than ChunkSize candidates, then orders each term's matches by score.
// Chunking never changes the result.
func (b *baseStrategy) SearchClientSide(entities []store.Entity, queries []string, threshold *float64) []store.Entity {
	limit := b.clientThreshold(threshold)
	lists := make([][]store.Entity, 0, len(queries))

	for _, query := range queries {
		var scored []Scored
		for chunk := range slices.Chunk(entities, b.limits.ChunkSize) {
			scored = append(scored, b.matcher.Rank(chunk, query, limit)...)
		}
		sortScored(scored)

		matches := make([]store.Entity, len(scored))
		for i, s := range scored {
			matches[i] = s.Entity
		}
		lists = append(lists, matches)
	}
	return MergeFirstSeen(lists...)
}

// GetAllEntities loads candidates for client-side search, truncated at MaxClientEntities.
func (b *baseStrategy) GetAllEntities(ctx context.Context, project string) ([]store.Entity, error) {
	db := b.provider.DB()
	if db == nil {
		return nil, fmt.Errorf("load entities for project %q: %w", project, store.ErrNotInitialized)
	}

	limit := b.limits.MaxClientEntities
	entities, err := queryEntities(ctx, db, b.queries.all, project, limit+1)
	if err != nil {
		return nil, fmt.Errorf("load entities for project %q: %w", project, err)
	}

	if len(entities) > limit {
		b.logger.Warn("client-side entity cap reached, fuzzy search may miss entities",
			"project", project, "limit", limit)
		entities = entities[:limit]
	}
	return entities, nil
}

// GetEntitiesPaginated loads one page of entities in GetAllEntities order.
func (b *baseStrategy) GetEntitiesPaginated(ctx context.Context, project string, page PaginationOptions) ([]store.Entity, int, error) {
	db := b.provider.DB()
	if db == nil {
		return nil, 0, fmt.Errorf("load entity page for project %q: %w", project, store.ErrNotInitialized)
	}
	page = page.normalized()

	var total int
	if err := db.QueryRowContext(ctx, b.queries.count, project).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entities for project %q: %w", project, err)
	}

	entities, err := queryEntities(ctx, db, b.queries.page, project, page.PageSize, page.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("load entity page for project %q: %w", project, err)
	}
	return entities, total, nil
}

// queryEntities runs a statement selecting (name, entity_type, observations, tags).
func queryEntities(ctx context.Context, db *sql.DB, query string, args ...any) ([]store.Entity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	entities := []store.Entity{}
	for rows.Next() {
		var name, entityType string
		var observations, tags []byte
		if err := rows.Scan(&name, &entityType, &observations, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e, err := store.DecodeEntity(name, entityType, observations, tags)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

func sortScored(s []Scored) {
	slices.SortStableFunc(s, func(a, b Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})
}
