// Package kgstore provides project-scoped knowledge graph persistence and retrieval
// on top of a SQLite or PostgreSQL storage provider.
package kgstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dan-solli/kgstore/pkg/metrics"
	"github.com/dan-solli/kgstore/pkg/migrate"
	"github.com/dan-solli/kgstore/pkg/search"
	"github.com/dan-solli/kgstore/pkg/store"
	"github.com/dan-solli/kgstore/pkg/trace"
)

// Config holds configuration for a Store
type Config struct {
	// Storage selects the backend; build it with store.NewConfig
	Storage store.Config

	// Search tunes database and client-side search (start from search.DefaultConfig)
	Search search.Config

	// Limits bounds search work; zero fields take the defaults
	Limits search.Limits

	// Breaker guards database search; disabled unless Enabled is set
	Breaker search.BreakerConfig

	// Logger for structured logging (default: discard)
	Logger *slog.Logger

	// Metrics collector (default: no-op)
	Metrics metrics.Collector

	// Exporter receives one trace record per search (default: none)
	Exporter trace.Exporter
}

// Store is the main entry point: graph reads and updates, search, and stats for
// every project held by one storage provider.
type Store struct {
	provider store.SQLProvider
	manager  *search.Manager
	migrator *migrate.Service
	logger   *slog.Logger
	metrics  metrics.Collector

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open creates the provider, initializes it, and wires the search stack over it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	provider, err := store.New(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s storage: %w", cfg.Storage.Type, err)
	}

	strategy, err := search.NewStrategy(provider, cfg.Search, cfg.Limits, logger)
	if err != nil {
		provider.Close()
		return nil, err
	}

	manager := search.NewManager(strategy, search.ManagerOptions{
		Logger:   logger,
		Metrics:  collector,
		Exporter: cfg.Exporter,
		Breaker:  search.NewBreaker(strategy.Name(), cfg.Breaker, logger),
	})

	logger.Info("kgstore opened", "storage", string(cfg.Storage.Type), "strategy", strategy.Name())

	return &Store{
		provider: provider,
		manager:  manager,
		migrator: migrate.NewService(migrate.ServiceOptions{Logger: logger}),
		logger:   logger,
		metrics:  collector,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Provider returns the underlying storage provider.
func (s *Store) Provider() store.SQLProvider {
	return s.provider
}

// Search returns the search manager.
func (s *Store) Search() *search.Manager {
	return s.manager
}

// Close releases the storage provider.
func (s *Store) Close() error {
	return s.provider.Close()
}

// HealthCheck reports whether the backend answers a trivial query.
func (s *Store) HealthCheck(ctx context.Context) bool {
	return s.provider.HealthCheck(ctx)
}

// Stats returns entity and relation counts and, where supported, the stored size.
func (s *Store) Stats(ctx context.Context, project string) (stats *ProjectStats, err error) {
	defer s.observe(ctx, "stats", time.Now(), &err)
	return s.migrator.GetProjectStats(ctx, project, s.provider)
}

// ReadGraph returns the full graph of a project.
func (s *Store) ReadGraph(ctx context.Context, project string) (graph *KnowledgeGraph, err error) {
	defer s.observe(ctx, "read_graph", time.Now(), &err)

	graph, err = s.provider.LoadGraph(ctx, project)
	if err != nil {
		return nil, err
	}
	s.setGraphItems(ctx, graph)
	return graph, nil
}

// SaveGraph replaces the stored graph of a project.
func (s *Store) SaveGraph(ctx context.Context, project string, graph *KnowledgeGraph) (err error) {
	defer s.observe(ctx, "save_graph", time.Now(), &err)

	unlock := s.lockProject(project)
	defer unlock()

	if err := s.provider.SaveGraph(ctx, graph, project); err != nil {
		return err
	}
	s.setGraphItems(ctx, graph)
	return nil
}

// CreateEntities adds entities whose names are not yet taken and returns them.
// Entities with an existing name (or repeated within the input) are skipped.
func (s *Store) CreateEntities(ctx context.Context, project string, entities []Entity) (created []Entity, err error) {
	defer s.observe(ctx, "create_entities", time.Now(), &err)

	created = []Entity{}
	err = s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		names := g.EntityNames()
		for _, e := range entities {
			if _, exists := names[e.Name]; exists {
				continue
			}
			names[e.Name] = struct{}{}
			e = cloneEntity(e)
			g.Entities = append(g.Entities, e)
			created = append(created, e)
		}
		return len(created) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateRelations adds relations whose (from, to, type) triple is not yet stored.
func (s *Store) CreateRelations(ctx context.Context, project string, relations []Relation) (created []Relation, err error) {
	defer s.observe(ctx, "create_relations", time.Now(), &err)

	created = []Relation{}
	err = s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		seen := make(map[Relation]struct{}, len(g.Relations))
		for _, r := range g.Relations {
			seen[r] = struct{}{}
		}
		for _, r := range relations {
			if _, exists := seen[r]; exists {
				continue
			}
			seen[r] = struct{}{}
			g.Relations = append(g.Relations, r)
			created = append(created, r)
		}
		return len(created) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddObservations appends observations not already present on each entity.
// An unknown entity fails the whole call and nothing is saved.
func (s *Store) AddObservations(ctx context.Context, project string, additions []ObservationAddition) (results []ObservationResult, err error) {
	defer s.observe(ctx, "add_observations", time.Now(), &err)

	err = s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		results = make([]ObservationResult, 0, len(additions))
		changed := false
		for _, add := range additions {
			e := findEntity(g, add.EntityName)
			if e == nil {
				return false, fmt.Errorf("%w: %q", ErrEntityNotFound, add.EntityName)
			}
			added := []string{}
			for _, obs := range add.Contents {
				if slices.Contains(e.Observations, obs) {
					continue
				}
				e.Observations = append(e.Observations, obs)
				added = append(added, obs)
			}
			changed = changed || len(added) > 0
			results = append(results, ObservationResult{EntityName: add.EntityName, AddedObservations: added})
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteEntities removes the named entities and every relation touching them.
// Unknown names are ignored.
func (s *Store) DeleteEntities(ctx context.Context, project string, names []string) (err error) {
	defer s.observe(ctx, "delete_entities", time.Now(), &err)

	drop := toSet(names)
	return s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		before := len(g.Entities) + len(g.Relations)
		g.Entities = filterSlice(g.Entities, func(e Entity) bool {
			_, gone := drop[e.Name]
			return !gone
		})
		g.Relations = filterSlice(g.Relations, func(r Relation) bool {
			_, fromGone := drop[r.From]
			_, toGone := drop[r.To]
			return !fromGone && !toGone
		})
		return len(g.Entities)+len(g.Relations) != before, nil
	})
}

// DeleteObservations removes the given observations. Unknown entities are ignored.
func (s *Store) DeleteObservations(ctx context.Context, project string, deletions []ObservationDeletion) (err error) {
	defer s.observe(ctx, "delete_observations", time.Now(), &err)

	return s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		changed := false
		for _, del := range deletions {
			e := findEntity(g, del.EntityName)
			if e == nil {
				continue
			}
			drop := toSet(del.Observations)
			before := len(e.Observations)
			e.Observations = filterSlice(e.Observations, func(obs string) bool {
				_, gone := drop[obs]
				return !gone
			})
			changed = changed || len(e.Observations) != before
		}
		return changed, nil
	})
}

// DeleteRelations removes the given relations. Unknown relations are ignored.
func (s *Store) DeleteRelations(ctx context.Context, project string, relations []Relation) (err error) {
	defer s.observe(ctx, "delete_relations", time.Now(), &err)

	drop := make(map[Relation]struct{}, len(relations))
	for _, r := range relations {
		drop[r] = struct{}{}
	}
	return s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		before := len(g.Relations)
		g.Relations = filterSlice(g.Relations, func(r Relation) bool {
			_, gone := drop[r]
			return !gone
		})
		return len(g.Relations) != before, nil
	})
}

// AddTags adds tags not already present on each entity and reports the ones added.
// An unknown entity fails the whole call and nothing is saved.
func (s *Store) AddTags(ctx context.Context, project string, updates []TagUpdate) (results []TagResult, err error) {
	defer s.observe(ctx, "add_tags", time.Now(), &err)

	err = s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		results = make([]TagResult, 0, len(updates))
		changed := false
		for _, u := range updates {
			e := findEntity(g, u.EntityName)
			if e == nil {
				return false, fmt.Errorf("%w: %q", ErrEntityNotFound, u.EntityName)
			}
			added := []string{}
			for _, tag := range u.Tags {
				if tag == "" || slices.Contains(e.Tags, tag) {
					continue
				}
				e.Tags = append(e.Tags, tag)
				added = append(added, tag)
			}
			changed = changed || len(added) > 0
			results = append(results, TagResult{EntityName: u.EntityName, Tags: added})
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RemoveTags removes tags from each entity and reports the ones removed.
// An unknown entity fails the whole call and nothing is saved.
func (s *Store) RemoveTags(ctx context.Context, project string, updates []TagUpdate) (results []TagResult, err error) {
	defer s.observe(ctx, "remove_tags", time.Now(), &err)

	err = s.update(ctx, project, func(g *KnowledgeGraph) (bool, error) {
		results = make([]TagResult, 0, len(updates))
		changed := false
		for _, u := range updates {
			e := findEntity(g, u.EntityName)
			if e == nil {
				return false, fmt.Errorf("%w: %q", ErrEntityNotFound, u.EntityName)
			}
			drop := toSet(u.Tags)
			removed := []string{}
			e.Tags = filterSlice(e.Tags, func(tag string) bool {
				if _, gone := drop[tag]; gone {
					removed = append(removed, tag)
					return false
				}
				return true
			})
			changed = changed || len(removed) > 0
			results = append(results, TagResult{EntityName: u.EntityName, Tags: removed})
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// OpenNodes returns the named entities and the relations between them.
func (s *Store) OpenNodes(ctx context.Context, project string, names []string) (graph *KnowledgeGraph, err error) {
	defer s.observe(ctx, "open_nodes", time.Now(), &err)

	full, err := s.provider.LoadGraph(ctx, project)
	if err != nil {
		return nil, err
	}
	want := toSet(names)
	entities := filterSlice(full.Entities, func(e Entity) bool {
		_, ok := want[e.Name]
		return ok
	})
	return &KnowledgeGraph{
		Entities:  entities,
		Relations: relationsAmong(full.Relations, entities),
	}, nil
}

// SearchNodes searches a project and returns the matching entities, in match
// order, with the relations whose endpoints are both in the result.
func (s *Store) SearchNodes(ctx context.Context, project string, queries []string, opts search.Options) (_ *KnowledgeGraph, err error) {
	defer s.observe(ctx, "search_nodes", time.Now(), &err)

	entities, err := s.manager.Search(ctx, search.Request{Project: project, Queries: queries, Options: opts})
	if err != nil {
		return nil, err
	}
	relations, err := s.relationsFor(ctx, project, entities)
	if err != nil {
		return nil, err
	}
	return &KnowledgeGraph{Entities: entities, Relations: relations}, nil
}

// SearchNodesPaginated returns one page of a single-query search with the
// relations among the page's entities.
func (s *Store) SearchNodesPaginated(ctx context.Context, project, query string, opts search.Options, page search.PaginationOptions) (_ *SearchPage, err error) {
	defer s.observe(ctx, "search_nodes_paginated", time.Now(), &err)

	res, err := s.manager.SearchPaginated(ctx, search.Request{Project: project, Queries: []string{query}, Options: opts}, page)
	if err != nil {
		return nil, err
	}
	relations, err := s.relationsFor(ctx, project, res.Data)
	if err != nil {
		return nil, err
	}
	return &SearchPage{PaginationResult: res, Relations: relations}, nil
}

func (s *Store) relationsFor(ctx context.Context, project string, entities []Entity) ([]Relation, error) {
	if len(entities) == 0 {
		return []Relation{}, nil
	}
	graph, err := s.provider.LoadGraph(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("load relations for project %q: %w", project, err)
	}
	return relationsAmong(graph.Relations, entities), nil
}

// update runs a load-modify-save cycle under the project lock. fn reports
// whether it changed the graph; unchanged graphs are not written back.
func (s *Store) update(ctx context.Context, project string, fn func(g *KnowledgeGraph) (bool, error)) error {
	unlock := s.lockProject(project)
	defer unlock()

	graph, err := s.provider.LoadGraph(ctx, project)
	if err != nil {
		return err
	}
	changed, err := fn(graph)
	if err != nil || !changed {
		return err
	}
	if err := s.provider.SaveGraph(ctx, graph, project); err != nil {
		return err
	}
	s.setGraphItems(ctx, graph)
	return nil
}

func (s *Store) lockProject(project string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[project]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[project] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Store) observe(ctx context.Context, operation string, start time.Time, errp *error) {
	status := "success"
	if err := *errp; err != nil {
		status = "error"
		errType := ClassifyError(err)
		s.metrics.RecordError(ctx, operation, errType)
		s.logger.Debug("kgstore operation failed", "operation", operation, "error_type", errType, "error", err)
	}
	s.metrics.RecordOperation(ctx, operation, status, time.Since(start).Milliseconds())
}

func (s *Store) setGraphItems(ctx context.Context, graph *KnowledgeGraph) {
	s.metrics.SetGraphItems(ctx, "entities", int64(len(graph.Entities)))
	s.metrics.SetGraphItems(ctx, "relations", int64(len(graph.Relations)))
}

// relationsAmong keeps the relations whose endpoints are both in entities.
func relationsAmong(relations []Relation, entities []Entity) []Relation {
	names := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		names[e.Name] = struct{}{}
	}
	return filterSlice(relations, func(r Relation) bool {
		_, from := names[r.From]
		_, to := names[r.To]
		return from && to
	})
}

func findEntity(g *KnowledgeGraph, name string) *Entity {
	for i := range g.Entities {
		if g.Entities[i].Name == name {
			return &g.Entities[i]
		}
	}
	return nil
}

func cloneEntity(e Entity) Entity {
	e.Observations = append([]string{}, e.Observations...)
	e.Tags = append([]string{}, e.Tags...)
	return e
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// filterSlice returns a new non-nil slice with the items keep accepts.
func filterSlice[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
