package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/lib/pq"
)

// PostgresProvider implements Provider using PostgreSQL.
// When the pg_trgm extension is available it also backs database-native fuzzy search.
type PostgresProvider struct {
	sqlBase
	cfg            Config
	trigramEnabled atomic.Bool
}

// Compile-time interface checks
var (
	_ SQLProvider   = (*PostgresProvider)(nil)
	_ SizeEstimator = (*PostgresProvider)(nil)
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var postgresTables = []string{
	`CREATE TABLE IF NOT EXISTS entities (
		id BIGSERIAL PRIMARY KEY,
		project TEXT NOT NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		observations JSONB NOT NULL DEFAULT '[]'::jsonb,
		tags JSONB NOT NULL DEFAULT '[]'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (project, name)
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		id BIGSERIAL PRIMARY KEY,
		project TEXT NOT NULL,
		from_entity TEXT NOT NULL,
		to_entity TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (project, from_entity, to_entity, relation_type)
	)`,
	"CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project)",
	"CREATE INDEX IF NOT EXISTS idx_entities_project_updated ON entities(project, updated_at DESC, name)",
	"CREATE INDEX IF NOT EXISTS idx_relations_project ON relations(project)",
}

// Trigram GIN indices over every field the similarity score reads.
var postgresTrigramIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_entities_name_trgm ON entities USING GIN (name gin_trgm_ops)",
	"CREATE INDEX IF NOT EXISTS idx_entities_type_trgm ON entities USING GIN (entity_type gin_trgm_ops)",
	"CREATE INDEX IF NOT EXISTS idx_entities_observations_trgm ON entities USING GIN ((observations::text) gin_trgm_ops)",
	"CREATE INDEX IF NOT EXISTS idx_entities_tags_trgm ON entities USING GIN ((tags::text) gin_trgm_ops)",
}

var postgresDialect = dialect{
	selectEntities: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = $1
		ORDER BY name`,
	selectRelations: `
		SELECT from_entity, to_entity, relation_type
		FROM relations
		WHERE project = $1
		ORDER BY from_entity, to_entity, relation_type`,
	deleteEntities:  "DELETE FROM entities WHERE project = $1",
	deleteRelations: "DELETE FROM relations WHERE project = $1",
	insertEntity: `
		INSERT INTO entities (project, name, entity_type, observations, tags, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, NOW())`,
	insertRelation: `
		INSERT INTO relations (project, from_entity, to_entity, relation_type, updated_at)
		VALUES ($1, $2, $3, $4, NOW())`,
	countProject: `
		SELECT
			(SELECT COALESCE(SUM(pg_column_size(e.*)), 0) FROM entities e WHERE e.project = $1) +
			(SELECT COALESCE(SUM(pg_column_size(r.*)), 0) FROM relations r WHERE r.project = $1)`,
	isUniqueViolation: isPostgresUniqueViolation,
}

// NewPostgresProvider creates a PostgreSQL-backed provider. Call Initialize before use.
func NewPostgresProvider(cfg Config, logger *slog.Logger) (*PostgresProvider, error) {
	if cfg.Type != StorageTypePostgreSQL {
		return nil, fmt.Errorf("%w: postgresql provider given %q config", ErrTypeMismatch, cfg.Type)
	}
	if err := validatePostgresConnectionString(cfg.ConnectionString); err != nil {
		return nil, err
	}
	cfg.Options = applyOptionDefaults(cfg.Options)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &PostgresProvider{
		sqlBase: sqlBase{
			dialect: postgresDialect,
			logger:  logger.With("storage", string(StorageTypePostgreSQL)),
			verbose: cfg.Options.Verbose,
		},
		cfg: cfg,
	}, nil
}

// Type returns StorageTypePostgreSQL.
func (p *PostgresProvider) Type() StorageType {
	return StorageTypePostgreSQL
}

// TrigramEnabled reports whether pg_trgm was enabled during Initialize.
func (p *PostgresProvider) TrigramEnabled() bool {
	return p.trigramEnabled.Load()
}

// Initialize opens the pool, creates tables, and enables trigram similarity search.
// A missing pg_trgm extension is not fatal: search degrades to client side.
func (p *PostgresProvider) Initialize(ctx context.Context) error {
	if p.DB() != nil {
		return nil
	}
	dsn, err := postgresDSN(p.cfg.ConnectionString, p.cfg.Options)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(p.cfg.Options.MaxConnections)
	db.SetMaxIdleConns(p.cfg.Options.MaxConnections)
	db.SetConnMaxIdleTime(p.cfg.Options.IdleTimeout)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := execAll(ctx, db, postgresTables); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	p.trigramEnabled.Store(false)
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS pg_trgm"); err != nil {
		p.logger.Warn("pg_trgm extension unavailable, database fuzzy search disabled", "error", err)
	} else if err := execAll(ctx, db, postgresTrigramIndexes); err != nil {
		p.logger.Warn("failed to create trigram indexes, database fuzzy search disabled", "error", err)
	} else {
		p.trigramEnabled.Store(true)
	}

	p.setDB(db)
	p.logger.Debug("postgresql storage initialized", "trigram", p.TrigramEnabled())
	return nil
}

// postgresDSN adds connect_timeout to the URL unless the caller already set it.
func postgresDSN(conn string, opts Options) (string, error) {
	u, err := url.Parse(conn)
	if err != nil {
		return "", fmt.Errorf("%w: parse postgresql connection string: %v", ErrInvalidConfig, err)
	}
	q := u.Query()
	if q.Get("connect_timeout") == "" && opts.ConnectionTimeout > 0 {
		secs := int(opts.ConnectionTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}
