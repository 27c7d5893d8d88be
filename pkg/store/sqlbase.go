package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
)

// dialect holds the backend-specific statements used by the shared load/save paths.
type dialect struct {
	selectEntities  string
	selectRelations string
	deleteEntities  string
	deleteRelations string
	insertEntity    string
	insertRelation  string
	countProject    string

	// isUniqueViolation reports whether err is a uniqueness constraint failure.
	isUniqueViolation func(err error) bool
}

// sqlBase carries the connection pool and the load/save logic shared by the SQL providers.
type sqlBase struct {
	mu      sync.RWMutex
	db      *sql.DB
	closed  bool
	dialect dialect
	logger  *slog.Logger
	verbose bool
}

// DB returns the underlying connection pool, or nil before Initialize.
func (b *sqlBase) DB() *sql.DB {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db
}

// setDB installs db, closing a pool left by a concurrent Initialize.
func (b *sqlBase) setDB(db *sql.DB) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil && b.db != db {
		if err := b.db.Close(); err != nil {
			b.logger.Warn("failed to close replaced connection pool", "error", err)
		}
	}
	b.db = db
	b.closed = false
}

// conn returns the pool or ErrNotInitialized.
func (b *sqlBase) conn() (*sql.DB, error) {
	db := b.DB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db, nil
}

// Close releases the pool. Safe to call more than once; close errors are logged.
func (b *sqlBase) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.db == nil {
		b.closed = true
		return nil
	}
	b.closed = true

	if err := b.db.Close(); err != nil {
		b.logger.Warn("failed to close storage connection pool", "error", err)
	}
	b.db = nil
	return nil
}

// HealthCheck runs SELECT 1 and reports success.
func (b *sqlBase) HealthCheck(ctx context.Context) bool {
	db, err := b.conn()
	if err != nil {
		return false
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		b.logger.Warn("storage health check failed", "error", err)
		return false
	}
	return one == 1
}

func (b *sqlBase) logStatement(query string, args ...any) {
	if b.verbose {
		b.logger.Debug("executing statement", "query", query, "args", len(args))
	}
}

// LoadGraph returns the full graph of a project ordered by entity name and relation triple.
func (b *sqlBase) LoadGraph(ctx context.Context, project string) (*KnowledgeGraph, error) {
	db, err := b.conn()
	if err != nil {
		return nil, fmt.Errorf("load graph for project %q: %w", project, err)
	}

	graph := emptyGraph()

	b.logStatement(b.dialect.selectEntities, project)
	rows, err := db.QueryContext(ctx, b.dialect.selectEntities, project)
	if err != nil {
		return nil, fmt.Errorf("load graph for project %q: failed to query entities: %w", project, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, entityType string
		var observations, tags []byte
		if err := rows.Scan(&name, &entityType, &observations, &tags); err != nil {
			return nil, fmt.Errorf("load graph for project %q: failed to scan entity: %w", project, err)
		}
		entity, err := DecodeEntity(name, entityType, observations, tags)
		if err != nil {
			return nil, fmt.Errorf("load graph for project %q: %w", project, err)
		}
		graph.Entities = append(graph.Entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load graph for project %q: error iterating entities: %w", project, err)
	}

	b.logStatement(b.dialect.selectRelations, project)
	relRows, err := db.QueryContext(ctx, b.dialect.selectRelations, project)
	if err != nil {
		return nil, fmt.Errorf("load graph for project %q: failed to query relations: %w", project, err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var r Relation
		if err := relRows.Scan(&r.From, &r.To, &r.RelationType); err != nil {
			return nil, fmt.Errorf("load graph for project %q: failed to scan relation: %w", project, err)
		}
		graph.Relations = append(graph.Relations, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("load graph for project %q: error iterating relations: %w", project, err)
	}

	return graph, nil
}

// SaveGraph replaces the project's stored graph inside one transaction:
// delete everything for the project, then insert every entity and relation.
func (b *sqlBase) SaveGraph(ctx context.Context, graph *KnowledgeGraph, project string) error {
	if graph == nil {
		graph = emptyGraph()
	}
	if err := graph.Validate(); err != nil {
		return fmt.Errorf("save graph for project %q: %w", project, err)
	}

	db, err := b.conn()
	if err != nil {
		return fmt.Errorf("save graph for project %q: %w", project, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save graph for project %q: failed to begin transaction: %w", project, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after Commit

	b.logStatement(b.dialect.deleteRelations, project)
	if _, err := tx.ExecContext(ctx, b.dialect.deleteRelations, project); err != nil {
		return fmt.Errorf("save graph for project %q: failed to delete relations: %w", project, err)
	}
	b.logStatement(b.dialect.deleteEntities, project)
	if _, err := tx.ExecContext(ctx, b.dialect.deleteEntities, project); err != nil {
		return fmt.Errorf("save graph for project %q: failed to delete entities: %w", project, err)
	}

	if err := b.insertEntities(ctx, tx, graph.Entities, project); err != nil {
		return err
	}
	if err := b.insertRelations(ctx, tx, graph.Relations, project); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save graph for project %q: failed to commit transaction: %w", project, err)
	}
	return nil
}

func (b *sqlBase) insertEntities(ctx context.Context, tx *sql.Tx, entities []Entity, project string) error {
	if len(entities) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, b.dialect.insertEntity)
	if err != nil {
		return fmt.Errorf("save graph for project %q: failed to prepare entity statement: %w", project, err)
	}
	defer stmt.Close()

	for _, e := range entities {
		observations, err := encodeStrings(e.Observations)
		if err != nil {
			return fmt.Errorf("save graph for project %q: entity %q: %w", project, e.Name, err)
		}
		tags, err := encodeStrings(e.Tags)
		if err != nil {
			return fmt.Errorf("save graph for project %q: entity %q: %w", project, e.Name, err)
		}

		b.logStatement(b.dialect.insertEntity, project, e.Name)
		if _, err := stmt.ExecContext(ctx, project, e.Name, e.EntityType, observations, tags); err != nil {
			if b.dialect.isUniqueViolation(err) {
				return fmt.Errorf("save graph for project %q: entity %q: %w: %w", project, e.Name, ErrDuplicate, err)
			}
			return fmt.Errorf("save graph for project %q: failed to insert entity %q: %w", project, e.Name, err)
		}
	}
	return nil
}

func (b *sqlBase) insertRelations(ctx context.Context, tx *sql.Tx, relations []Relation, project string) error {
	if len(relations) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, b.dialect.insertRelation)
	if err != nil {
		return fmt.Errorf("save graph for project %q: failed to prepare relation statement: %w", project, err)
	}
	defer stmt.Close()

	for _, r := range relations {
		b.logStatement(b.dialect.insertRelation, project, r.From, r.To)
		if _, err := stmt.ExecContext(ctx, project, r.From, r.To, r.RelationType); err != nil {
			if b.dialect.isUniqueViolation(err) {
				return fmt.Errorf("save graph for project %q: relation %s-[%s]->%s: %w: %w", project, r.From, r.RelationType, r.To, ErrDuplicate, err)
			}
			return fmt.Errorf("save graph for project %q: failed to insert relation %s-[%s]->%s: %w", project, r.From, r.RelationType, r.To, err)
		}
	}
	return nil
}

// ProjectSize estimates the bytes stored for a project.
func (b *sqlBase) ProjectSize(ctx context.Context, project string) (int64, error) {
	db, err := b.conn()
	if err != nil {
		return 0, err
	}
	var size sql.NullInt64
	if err := db.QueryRowContext(ctx, b.dialect.countProject, project).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to estimate size of project %q: %w", project, err)
	}
	return size.Int64, nil
}

// execAll runs schema statements in order, stopping at the first failure.
func execAll(ctx context.Context, db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
