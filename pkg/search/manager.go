package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dan-solli/kgstore/pkg/metrics"
	"github.com/dan-solli/kgstore/pkg/store"
	"github.com/dan-solli/kgstore/pkg/trace"
)

const (
	operationSearch          = "search"
	operationSearchPaginated = "search_paginated"
)

// ManagerOptions configures a Manager. Every field is optional.
type ManagerOptions struct {
	Logger   *slog.Logger
	Metrics  metrics.Collector
	Exporter trace.Exporter

	// Breaker guards database search; nil disables it.
	Breaker *Breaker
}

// Manager routes search requests to database or client-side matching.
// It keeps no per-request state and is safe for concurrent use.
type Manager struct {
	strategy  Strategy
	paginated PaginatedStrategy
	logger    *slog.Logger
	metrics   metrics.Collector
	exporter  trace.Exporter
	breaker   *Breaker
}

// NewManager creates a Manager over strategy.
func NewManager(strategy Strategy, opts ManagerOptions) *Manager {
	m := &Manager{
		strategy: strategy,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		exporter: opts.Exporter,
		breaker:  opts.Breaker,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNoopCollector()
	}
	if ps, ok := strategy.(PaginatedStrategy); ok {
		m.paginated = ps
	}
	return m
}

// Strategy returns the active strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

// Search runs every query in order and returns the matches deduplicated by name,
// each entity at the position of its first match, then applies the tag filter.
func (m *Manager) Search(ctx context.Context, req Request) ([]store.Entity, error) {
	start := time.Now()
	rec := m.startTrace(operationSearch, req)

	results, err := m.search(ctx, rec, operationSearch, req)
	m.finish(ctx, rec, operationSearch, start, err)
	return results, err
}

// SearchPaginated returns one page of results. Single-term requests without a
// caller-supplied entity set or tag filter are paginated in the database when the
// strategy can; everything else is searched in full and sliced in memory.
func (m *Manager) SearchPaginated(ctx context.Context, req Request, page PaginationOptions) (*PaginationResult, error) {
	start := time.Now()
	rec := m.startTrace(operationSearchPaginated, req)
	page = page.normalized()

	if res, ok := m.databasePage(ctx, rec, req, page); ok {
		m.finish(ctx, rec, operationSearchPaginated, start, nil)
		return res, nil
	}

	results, err := m.search(ctx, rec, operationSearchPaginated, req)
	if err != nil {
		m.finish(ctx, rec, operationSearchPaginated, start, err)
		return nil, err
	}

	span := rec.Span(trace.SpanPaginate)
	res := Paginate(results, page)
	m.endSpan(ctx, operationSearchPaginated, trace.SpanPaginate, span, nil, map[string]int64{"total": int64(res.TotalCount)})

	m.finish(ctx, rec, operationSearchPaginated, start, nil)
	return res, nil
}

func (m *Manager) search(ctx context.Context, rec *trace.Recorder, op string, req Request) ([]store.Entity, error) {
	terms := nonEmptyTerms(req.Queries)
	cands := &candidates{strategy: m.strategy, project: req.Project, entities: req.Entities, loaded: req.Entities != nil}

	var results []store.Entity
	var err error
	switch {
	case len(terms) == 0:
		if len(req.Options.Tags) == 0 {
			return []store.Entity{}, nil
		}
		results, err = cands.get(ctx)
	case req.Options.mode() == ModeExact:
		results, err = m.searchExact(ctx, rec, op, terms, cands)
	default:
		results, err = m.searchFuzzy(ctx, rec, op, terms, req, cands)
	}
	if err != nil {
		return nil, err
	}
	return FilterByTags(results, req.Options.Tags, req.Options.tagMatch()), nil
}

// searchExact filters the candidate set directly; thresholds never apply.
func (m *Manager) searchExact(ctx context.Context, rec *trace.Recorder, op string, terms []string, cands *candidates) ([]store.Entity, error) {
	span := rec.Span(trace.SpanSearchExact)
	entities, err := cands.get(ctx)
	if err != nil {
		m.endSpan(ctx, op, trace.SpanSearchExact, span, err, nil)
		return nil, err
	}

	acc := newDedup(0)
	for _, term := range terms {
		acc.add(ExactSearch(entities, term))
	}
	m.endSpan(ctx, op, trace.SpanSearchExact, span, nil, map[string]int64{
		"terms": int64(len(terms)), "candidates": int64(len(entities)), "results": int64(acc.len()),
	})
	return acc.result, nil
}

// searchFuzzy prefers database search and falls back to client-side matching.
func (m *Manager) searchFuzzy(ctx context.Context, rec *trace.Recorder, op string, terms []string, req Request, cands *candidates) ([]store.Entity, error) {
	override := req.Options.FuzzyThreshold

	if m.strategy.CanUseDatabase() {
		threshold := m.strategy.DefaultThreshold()
		if override != nil {
			threshold = *override
		}

		span := rec.Span(trace.SpanSearchDatabase)
		found, err := m.breaker.Execute(func() ([]store.Entity, error) {
			return m.strategy.SearchDatabase(ctx, terms, threshold, req.Project)
		})
		if err == nil {
			m.endSpan(ctx, op, trace.SpanSearchDatabase, span, nil, map[string]int64{
				"terms": int64(len(terms)), "results": int64(len(found)),
			})
			return found, nil
		}
		m.endSpan(ctx, op, trace.SpanSearchDatabase, span, err, nil)

		if err := m.fallback(ctx, req.Project, err); err != nil {
			return nil, err
		}
	}

	span := rec.Span(trace.SpanSearchClient)
	entities, err := cands.get(ctx)
	if err != nil {
		m.endSpan(ctx, op, trace.SpanSearchClient, span, err, nil)
		return nil, err
	}
	found := m.strategy.SearchClientSide(entities, terms, override)
	m.endSpan(ctx, op, trace.SpanSearchClient, span, nil, map[string]int64{
		"terms": int64(len(terms)), "candidates": int64(len(entities)), "results": int64(len(found)),
	})
	return found, nil
}

// fallback logs a failed database search and returns nil when the client side may
// answer instead, or the wrapped failure otherwise.
func (m *Manager) fallback(ctx context.Context, project string, err error) error {
	reason := metrics.FallbackReasonError
	if isBreakerRejection(err) {
		reason = metrics.FallbackReasonCircuitOpen
	}

	if !m.strategy.ClientFallbackEnabled() {
		m.logger.Warn("database search failed, client fallback disabled",
			"project", project, "strategy", m.strategy.Name(), "reason", reason, "error", err)
		return fmt.Errorf("database search in project %q: %w", project, err)
	}

	m.logger.Warn("database search failed, falling back to client-side search",
		"project", project, "strategy", m.strategy.Name(), "reason", reason,
		"breaker", m.breaker.State(), "error", err)
	m.metrics.RecordFallback(ctx, m.strategy.Name(), reason)
	return nil
}

// databasePage tries the paginated strategy calls. ok is false when the request
// must be paginated after a full search instead.
func (m *Manager) databasePage(ctx context.Context, rec *trace.Recorder, req Request, page PaginationOptions) (*PaginationResult, bool) {
	terms := nonEmptyTerms(req.Queries)
	if m.paginated == nil || len(terms) != 1 || req.Entities != nil || len(req.Options.Tags) > 0 {
		return nil, false
	}
	term := terms[0]
	caps := m.paginated.Capabilities()

	switch {
	case req.Options.mode() == ModeFuzzy && caps.PaginatedSearch && m.strategy.CanUseDatabase():
		threshold := m.strategy.DefaultThreshold()
		if req.Options.FuzzyThreshold != nil {
			threshold = *req.Options.FuzzyThreshold
		}
		span := rec.Span(trace.SpanSearchDatabase)
		data, total, err := m.breaker.executePage(func() ([]store.Entity, int, error) {
			return m.paginated.SearchDatabasePaginated(ctx, term, threshold, req.Project, page)
		})
		m.endSpan(ctx, operationSearchPaginated, trace.SpanSearchDatabase, span, err, map[string]int64{"total": int64(total)})
		if err != nil {
			m.logger.Warn("paginated database search failed, paginating full results instead",
				"project", req.Project, "strategy", m.strategy.Name(), "error", err)
			return nil, false
		}
		return newPaginationResult(data, total, page), true

	case req.Options.mode() == ModeExact && caps.PaginatedExact:
		span := rec.Span(trace.SpanSearchExact)
		data, total, err := m.paginated.SearchExactPaginated(ctx, term, req.Project, page)
		m.endSpan(ctx, operationSearchPaginated, trace.SpanSearchExact, span, err, map[string]int64{"total": int64(total)})
		if err != nil {
			m.logger.Warn("paginated exact search failed, paginating full results instead",
				"project", req.Project, "strategy", m.strategy.Name(), "error", err)
			return nil, false
		}
		return newPaginationResult(data, total, page), true

	case req.Options.mode() == ModeExact && caps.PaginatedBulk:
		return m.exactBulkPage(ctx, rec, req.Project, term, page)
	}
	return nil, false
}

// exactBulkPage loads one page of entities and filters it. TotalCount covers the
// matches on that page only; TotalPages and HasNextPage describe the entity pages
// still to scan. This keeps memory bounded at the cost of an exact global count.
func (m *Manager) exactBulkPage(ctx context.Context, rec *trace.Recorder, project, term string, page PaginationOptions) (*PaginationResult, bool) {
	span := rec.Span(trace.SpanSearchExact)
	entities, bulkTotal, err := m.paginated.GetEntitiesPaginated(ctx, project, page)
	if err != nil {
		m.endSpan(ctx, operationSearchPaginated, trace.SpanSearchExact, span, err, nil)
		m.logger.Warn("paginated entity retrieval failed, paginating full results instead",
			"project", project, "strategy", m.strategy.Name(), "error", err)
		return nil, false
	}

	matches := ExactSearch(entities, term)
	m.endSpan(ctx, operationSearchPaginated, trace.SpanSearchExact, span, nil, map[string]int64{
		"candidates": int64(len(entities)), "results": int64(len(matches)),
	})

	res := newPaginationResult(matches, len(matches), page)
	scanned := newPaginationResult(nil, bulkTotal, page)
	res.TotalPages = scanned.TotalPages
	res.HasNextPage = scanned.HasNextPage
	return res, true
}

func (m *Manager) startTrace(op string, req Request) *trace.Recorder {
	rec := trace.Start(m.exporter, op)
	rec.SetID("project", req.Project)
	rec.SetID("strategy", m.strategy.Name())
	rec.SetID("mode", string(req.Options.mode()))
	rec.SetID("terms", len(req.Queries))
	return rec
}

func (m *Manager) endSpan(ctx context.Context, op, name string, span *trace.SpanTimer, err error, counters map[string]int64) {
	span.Finish(err == nil, errorType(err), counters)
	m.metrics.RecordStage(ctx, op, name, span.Duration().Milliseconds())
}

func (m *Manager) finish(ctx context.Context, rec *trace.Recorder, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.metrics.RecordError(ctx, op, errorType(err))
	}
	m.metrics.RecordOperation(ctx, op, status, time.Since(start).Milliseconds())

	if exportErr := rec.Finish(ctx, err, errorType(err)); exportErr != nil {
		m.logger.Warn("failed to export search trace", "operation_id", rec.OperationID(), "error", exportErr)
	}
}

// errorType is the span/metric label for a search failure.
func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, store.ErrNotInitialized), errors.Is(err, ErrDatabaseSearchUnsupported):
		return "config"
	default:
		return "database"
	}
}

// candidates loads the client-side entity set at most once per request.
type candidates struct {
	strategy Strategy
	project  string
	entities []store.Entity
	loaded   bool
}

func (c *candidates) get(ctx context.Context) ([]store.Entity, error) {
	if c.loaded {
		return c.entities, nil
	}
	entities, err := c.strategy.GetAllEntities(ctx, c.project)
	if err != nil {
		return nil, err
	}
	c.entities, c.loaded = entities, true
	return entities, nil
}
