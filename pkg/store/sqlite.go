package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// SQLiteProvider implements Provider using SQLite as the backend.
// SQLite has no native approximate text search, so strategies built on it
// search client side.
type SQLiteProvider struct {
	sqlBase
	cfg Config
}

// Compile-time interface checks
var (
	_ SQLProvider   = (*SQLiteProvider)(nil)
	_ SizeEstimator = (*SQLiteProvider)(nil)
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS entities (
		project TEXT NOT NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		observations TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (project, name)
	);

	CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project);
	CREATE INDEX IF NOT EXISTS idx_entities_project_updated ON entities(project, updated_at DESC, name);

	CREATE TABLE IF NOT EXISTS relations (
		project TEXT NOT NULL,
		from_entity TEXT NOT NULL,
		to_entity TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (project, from_entity, to_entity, relation_type)
	);

	CREATE INDEX IF NOT EXISTS idx_relations_project ON relations(project);
	`

var sqliteDialect = dialect{
	selectEntities: `
		SELECT name, entity_type, observations, tags
		FROM entities
		WHERE project = ?
		ORDER BY name`,
	selectRelations: `
		SELECT from_entity, to_entity, relation_type
		FROM relations
		WHERE project = ?
		ORDER BY from_entity, to_entity, relation_type`,
	deleteEntities:  "DELETE FROM entities WHERE project = ?",
	deleteRelations: "DELETE FROM relations WHERE project = ?",
	insertEntity: `
		INSERT INTO entities (project, name, entity_type, observations, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
	insertRelation: `
		INSERT INTO relations (project, from_entity, to_entity, relation_type, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
	countProject: `
		SELECT
			(SELECT COALESCE(SUM(LENGTH(name) + LENGTH(entity_type) + LENGTH(observations) + LENGTH(tags)), 0)
			 FROM entities WHERE project = ?1) +
			(SELECT COALESCE(SUM(LENGTH(from_entity) + LENGTH(to_entity) + LENGTH(relation_type)), 0)
			 FROM relations WHERE project = ?1)`,
	isUniqueViolation: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// NewSQLiteProvider creates a SQLite-backed provider. Call Initialize before use.
func NewSQLiteProvider(cfg Config, logger *slog.Logger) (*SQLiteProvider, error) {
	if cfg.Type != StorageTypeSQLite {
		return nil, fmt.Errorf("%w: sqlite provider given %q config", ErrTypeMismatch, cfg.Type)
	}
	if cfg.sqlitePath == "" {
		// Config built by hand rather than through NewConfig.
		validated, err := NewConfig(cfg.Type, cfg.ConnectionString, cfg.Options)
		if err != nil {
			return nil, err
		}
		cfg = validated
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &SQLiteProvider{
		sqlBase: sqlBase{
			dialect: sqliteDialect,
			logger:  logger.With("storage", string(StorageTypeSQLite)),
			verbose: cfg.Options.Verbose,
		},
		cfg: cfg,
	}, nil
}

// Type returns StorageTypeSQLite.
func (s *SQLiteProvider) Type() StorageType {
	return StorageTypeSQLite
}

// Initialize opens the database and creates tables and indexes if they don't exist.
func (s *SQLiteProvider) Initialize(ctx context.Context) error {
	if s.DB() != nil {
		return nil
	}
	path := s.cfg.SQLitePath()
	db, err := sql.Open(sqliteDriverName, sqliteDSN(path, s.cfg.Options))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: opens its own database, so pin the pool to one.
	if path == sqliteMemoryPath {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(s.cfg.Options.MaxConnections)
		db.SetConnMaxIdleTime(s.cfg.Options.IdleTimeout)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.setDB(db)
	s.logger.Debug("sqlite storage initialized", "path", path)
	return nil
}
