// Package store provides storage providers for kgstore's project-scoped knowledge graphs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Entity represents a named, typed node of a project's knowledge graph.
type Entity struct {
	Name         string   `json:"name"`         // Unique within a project
	EntityType   string   `json:"entityType"`   // Free-form category (Person, Project, ...)
	Observations []string `json:"observations"` // Insertion ordered, not deduplicated
	Tags         []string `json:"tags"`         // Set-like, defaults to empty
}

// Relation represents a directed, typed edge between two entity names.
// The endpoints are not required to exist in the graph.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// KnowledgeGraph is the unit of load and save: every entity and relation of one project.
type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// ProjectStats summarizes the stored size of a project.
// SizeBytes is backend specific and zero when the provider cannot estimate it.
type ProjectStats struct {
	Project   string `json:"project"`
	Entities  int    `json:"entities"`
	Relations int    `json:"relations"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Provider defines the interface for project-scoped graph persistence.
// Implementations replace the whole stored graph of a project on every save.
type Provider interface {
	// Type reports which backend this provider talks to.
	Type() StorageType

	// Initialize opens the connection pool and creates the schema if absent.
	// On failure every partially acquired resource is released before returning.
	Initialize(ctx context.Context) error

	// Close releases all held connections. It is idempotent and never fails;
	// errors encountered while closing are logged.
	Close() error

	// HealthCheck issues a trivial round-trip query. It never returns an error.
	HealthCheck(ctx context.Context) bool

	// LoadGraph returns the full graph of a project.
	// A project without rows yields an empty graph, not an error.
	LoadGraph(ctx context.Context, project string) (*KnowledgeGraph, error)

	// SaveGraph atomically replaces the stored graph of a project.
	// Uniqueness violations roll the whole save back.
	SaveGraph(ctx context.Context, graph *KnowledgeGraph, project string) error
}

// SQLProvider is a Provider backed by database/sql. Search strategies use the
// underlying pool for database-native queries.
type SQLProvider interface {
	Provider
	DB() *sql.DB
}

// SizeEstimator is implemented by providers that can estimate a project's stored size.
type SizeEstimator interface {
	ProjectSize(ctx context.Context, project string) (int64, error)
}

var (
	// ErrInvalidConfig indicates a malformed storage configuration.
	ErrInvalidConfig = errors.New("invalid storage config")

	// ErrTypeMismatch indicates a config handed to a provider of a different backend.
	ErrTypeMismatch = errors.New("storage type does not match provider")

	// ErrNotInitialized indicates an operation on a provider before Initialize succeeded.
	ErrNotInitialized = errors.New("storage provider not initialized")

	// ErrInvalidGraph indicates a graph that violates the data model.
	ErrInvalidGraph = errors.New("invalid knowledge graph")

	// ErrDuplicate indicates a save that violated a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate entity or relation")
)

// Validate checks the field-level invariants of the graph. Uniqueness of names and
// relation triples is left to the backend constraints so that a violating save fails
// as a whole inside its transaction.
//
// Every string must be valid UTF-8: JSON columns and PostgreSQL text cannot hold
// other bytes verbatim.
func (g *KnowledgeGraph) Validate() error {
	for i, e := range g.Entities {
		if e.Name == "" {
			return fmt.Errorf("%w: entity %d has an empty name", ErrInvalidGraph, i)
		}
		if !utf8.ValidString(e.Name) {
			return fmt.Errorf("%w: entity %d has a name that is not valid UTF-8", ErrInvalidGraph, i)
		}
		if e.EntityType == "" {
			return fmt.Errorf("%w: entity %q has an empty type", ErrInvalidGraph, e.Name)
		}
		if !utf8.ValidString(e.EntityType) {
			return fmt.Errorf("%w: entity %q has a type that is not valid UTF-8", ErrInvalidGraph, e.Name)
		}
		for _, obs := range e.Observations {
			if obs == "" {
				return fmt.Errorf("%w: entity %q has an empty observation", ErrInvalidGraph, e.Name)
			}
			if !utf8.ValidString(obs) {
				return fmt.Errorf("%w: entity %q has an observation that is not valid UTF-8", ErrInvalidGraph, e.Name)
			}
		}
		for _, tag := range e.Tags {
			if !utf8.ValidString(tag) {
				return fmt.Errorf("%w: entity %q has a tag that is not valid UTF-8", ErrInvalidGraph, e.Name)
			}
		}
	}
	for i, r := range g.Relations {
		if r.From == "" || r.To == "" || r.RelationType == "" {
			return fmt.Errorf("%w: relation %d has an empty field", ErrInvalidGraph, i)
		}
		if !utf8.ValidString(r.From) || !utf8.ValidString(r.To) || !utf8.ValidString(r.RelationType) {
			return fmt.Errorf("%w: relation %d is not valid UTF-8", ErrInvalidGraph, i)
		}
	}
	return nil
}

// EntityNames returns the set of entity names in the graph.
func (g *KnowledgeGraph) EntityNames() map[string]struct{} {
	names := make(map[string]struct{}, len(g.Entities))
	for _, e := range g.Entities {
		names[e.Name] = struct{}{}
	}
	return names
}

// IsEmpty reports whether the graph has neither entities nor relations.
func (g *KnowledgeGraph) IsEmpty() bool {
	return g == nil || (len(g.Entities) == 0 && len(g.Relations) == 0)
}

// emptyGraph returns a graph with non-nil empty collections.
func emptyGraph() *KnowledgeGraph {
	return &KnowledgeGraph{
		Entities:  []Entity{},
		Relations: []Relation{},
	}
}
