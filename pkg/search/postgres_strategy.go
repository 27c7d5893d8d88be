package search

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dan-solli/kgstore/pkg/store"
)

// PostgresStrategy searches a PostgreSQL-backed store with pg_trgm similarity.
type PostgresStrategy struct {
	baseStrategy
}

var _ PaginatedStrategy = (*PostgresStrategy)(nil)

// trigramReporter is implemented by providers that know whether pg_trgm is enabled.
type trigramReporter interface {
	TrigramEnabled() bool
}

var postgresEntityQueries = entityQueries{
	all: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = $1
		ORDER BY updated_at DESC, name ASC
		LIMIT $2`,
	page: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = $1
		ORDER BY updated_at DESC, name ASC
		LIMIT $2 OFFSET $3`,
	count: "SELECT COUNT(*) FROM entities WHERE project = $1",
}

// exactWhere matches $2 (an ILIKE pattern) against every searchable field.
const exactWhere = `project = $1 AND (
			name ILIKE $2 ESCAPE '\'
			OR entity_type ILIKE $2 ESCAPE '\'
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(observations) AS o(v) WHERE o.v ILIKE $2 ESCAPE '\')
			OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(tags) AS t(v) WHERE t.v ILIKE $2 ESCAPE '\'))`

// NewPostgresStrategy creates the PostgreSQL search strategy.
func NewPostgresStrategy(provider store.SQLProvider, cfg Config, limits Limits, logger *slog.Logger) *PostgresStrategy {
	return &PostgresStrategy{
		baseStrategy: newBaseStrategy(provider, cfg, limits, postgresEntityQueries, logger),
	}
}

// Capabilities reports every paginated operation.
func (s *PostgresStrategy) Capabilities() Capabilities {
	return Capabilities{PaginatedSearch: true, PaginatedExact: true, PaginatedBulk: true}
}

// CanUseDatabase requires UseDatabaseSearch and an enabled pg_trgm extension.
func (s *PostgresStrategy) CanUseDatabase() bool {
	if !s.cfg.UseDatabaseSearch {
		return false
	}
	tr, ok := s.provider.(trigramReporter)
	return ok && tr.TrigramEnabled()
}

// SearchDatabase runs one SQL round-trip per batch of BatchSize terms.
func (s *PostgresStrategy) SearchDatabase(ctx context.Context, queries []string, threshold float64, project string) ([]store.Entity, error) {
	if !s.CanUseDatabase() {
		return nil, ErrDatabaseSearchUnsupported
	}
	db := s.provider.DB()
	if db == nil {
		return nil, fmt.Errorf("database search in project %q: %w", project, store.ErrNotInitialized)
	}

	return s.searchBatches(ctx, queries, func(ctx context.Context, batch []string) ([]store.Entity, error) {
		query, args := buildFuzzyBatchQuery(batch, project, threshold, s.limits.MaxResults)
		entities, err := queryRankedEntities(ctx, db, query, args...)
		if err != nil {
			return nil, fmt.Errorf("database search in project %q: %w", project, err)
		}
		return entities, nil
	})
}

// SearchDatabasePaginated returns one page of similarity matches for a single term.
func (s *PostgresStrategy) SearchDatabasePaginated(ctx context.Context, query string, threshold float64, project string, page PaginationOptions) ([]store.Entity, int, error) {
	if !s.CanUseDatabase() {
		return nil, 0, ErrDatabaseSearchUnsupported
	}
	db := s.provider.DB()
	if db == nil {
		return nil, 0, fmt.Errorf("paginated database search in project %q: %w", project, store.ErrNotInitialized)
	}
	page = page.normalized()
	score := similarityExpr("$2")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM entities WHERE project = $1 AND %s > $3", score)
	if err := db.QueryRowContext(ctx, countQuery, project, query, threshold).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("paginated database search in project %q: count: %w", project, err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT name, entity_type, observations, tags FROM (
			SELECT name, entity_type, observations, tags, %s AS score
			FROM entities
			WHERE project = $1
		) AS scored
		WHERE score > $3
		ORDER BY score DESC, name ASC
		LIMIT $4 OFFSET $5`, score)
	entities, err := queryEntities(ctx, db, pageQuery, project, query, threshold, page.PageSize, page.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("paginated database search in project %q: %w", project, err)
	}
	return entities, total, nil
}

// SearchExactPaginated returns one page of case-insensitive substring matches.
func (s *PostgresStrategy) SearchExactPaginated(ctx context.Context, query string, project string, page PaginationOptions) ([]store.Entity, int, error) {
	db := s.provider.DB()
	if db == nil {
		return nil, 0, fmt.Errorf("paginated exact search in project %q: %w", project, store.ErrNotInitialized)
	}
	page = page.normalized()
	pattern := likePattern(query)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE "+exactWhere, project, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("paginated exact search in project %q: count: %w", project, err)
	}

	pageQuery := `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE ` + exactWhere + `
		ORDER BY updated_at DESC, name ASC
		LIMIT $3 OFFSET $4`
	entities, err := queryEntities(ctx, db, pageQuery, project, pattern, page.PageSize, page.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("paginated exact search in project %q: %w", project, err)
	}
	return entities, total, nil
}

// searchBatches splits terms into BatchSize groups, runs each group in order and
// merges with first-seen deduplication, stopping once MaxResults is reached.
func (b *baseStrategy) searchBatches(ctx context.Context, queries []string, run func(context.Context, []string) ([]store.Entity, error)) ([]store.Entity, error) {
	terms := nonEmptyTerms(queries)
	acc := newDedup(0)

	for start := 0; start < len(terms) && acc.len() < b.limits.MaxResults; start += b.limits.BatchSize {
		end := min(start+b.limits.BatchSize, len(terms))
		entities, err := run(ctx, terms[start:end])
		if err != nil {
			return nil, err
		}
		acc.add(entities)
	}

	if acc.len() > b.limits.MaxResults {
		return acc.result[:b.limits.MaxResults], nil
	}
	return acc.result, nil
}

// similarityExpr is the best trigram similarity of param across all searchable fields.
func similarityExpr(param string) string {
	return fmt.Sprintf(
		"GREATEST(similarity(name, %[1]s), similarity(entity_type, %[1]s), similarity(observations::text, %[1]s), similarity(tags::text, %[1]s))",
		param)
}

// buildFuzzyBatchQuery builds one UNION ALL statement for a batch of terms.
// Args: $1 project, $2 threshold, $3 per-term limit, $4.. terms. Rows come back
// grouped by term in batch order, best score first.
func buildFuzzyBatchQuery(terms []string, project string, threshold float64, limit int) (string, []any) {
	args := make([]any, 0, len(terms)+3)
	args = append(args, project, threshold, limit)

	var b strings.Builder
	b.WriteString("SELECT term_idx, name, entity_type, observations, tags, score FROM (\n")
	for i, term := range terms {
		if i > 0 {
			b.WriteString("\n\tUNION ALL\n")
		}
		args = append(args, term)
		score := similarityExpr(fmt.Sprintf("$%d", len(args)))
		fmt.Fprintf(&b, "\t(SELECT %d AS term_idx, name, entity_type, observations, tags, %s AS score\n", i, score)
		fmt.Fprintf(&b, "\t FROM entities WHERE project = $1 AND %s > $2\n", score)
		b.WriteString("\t ORDER BY score DESC, name ASC LIMIT $3)")
	}
	b.WriteString("\n) AS matches\nORDER BY term_idx ASC, score DESC, name ASC")
	return b.String(), args
}

// queryRankedEntities scans rows produced by buildFuzzyBatchQuery.
func queryRankedEntities(ctx context.Context, db *sql.DB, query string, args ...any) ([]store.Entity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity matches: %w", err)
	}
	defer rows.Close()

	entities := []store.Entity{}
	for rows.Next() {
		var termIdx int
		var name, entityType string
		var observations, tags []byte
		var score float64
		if err := rows.Scan(&termIdx, &name, &entityType, &observations, &tags, &score); err != nil {
			return nil, fmt.Errorf("failed to scan similarity match: %w", err)
		}
		e, err := store.DecodeEntity(name, entityType, observations, tags)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similarity matches: %w", err)
	}
	return entities, nil
}

// likePattern wraps q in % after escaping LIKE metacharacters.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func nonEmptyTerms(queries []string) []string {
	terms := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			terms = append(terms, q)
		}
	}
	return terms
}
