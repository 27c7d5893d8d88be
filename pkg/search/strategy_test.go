package search

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/kgstore/pkg/store"
)

// setupTestProvider creates an initialized in-memory SQLite provider holding graph under "p1".
func setupTestProvider(t *testing.T, graph *store.KnowledgeGraph) *store.SQLiteProvider {
	t.Helper()
	cfg, err := store.NewConfig(store.StorageTypeSQLite, "sqlite://:memory:", store.Options{})
	require.NoError(t, err)
	provider, err := store.NewSQLiteProvider(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(context.Background()))
	t.Cleanup(func() { _ = provider.Close() })

	if graph != nil {
		require.NoError(t, provider.SaveGraph(context.Background(), graph, "p1"))
	}
	return provider
}

// newBufferLogger returns a text logger writing into the returned buffer.
func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func numberedGraph(n int) *store.KnowledgeGraph {
	g := &store.KnowledgeGraph{}
	for i := 0; i < n; i++ {
		g.Entities = append(g.Entities, store.Entity{
			Name:         fmt.Sprintf("node-%03d", i),
			EntityType:   "Concept",
			Observations: []string{fmt.Sprintf("observation number %d", i)},
			Tags:         []string{fmt.Sprintf("group-%d", i%3)},
		})
	}
	return g
}

func TestNewStrategy_SelectsByBackend(t *testing.T) {
	provider := setupTestProvider(t, nil)

	s, err := NewStrategy(provider, DefaultConfig(), DefaultLimits(), nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStrategy{}, s)
	assert.Equal(t, "sqlite", s.Name())

	pgCfg, err := store.NewConfig(store.StorageTypePostgreSQL, "postgresql://localhost/kg", store.Options{})
	require.NoError(t, err)
	pg, err := store.NewPostgresProvider(pgCfg, nil)
	require.NoError(t, err)

	s, err = NewStrategy(pg, DefaultConfig(), DefaultLimits(), nil)
	require.NoError(t, err)
	assert.IsType(t, &PostgresStrategy{}, s)
	assert.False(t, s.CanUseDatabase(), "no trigram support before Initialize")
}

func TestSQLiteStrategy_Capabilities(t *testing.T) {
	s := NewSQLiteStrategy(setupTestProvider(t, nil), DefaultConfig(), DefaultLimits(), nil)

	assert.Equal(t, Capabilities{PaginatedBulk: true}, s.Capabilities())
	assert.False(t, s.CanUseDatabase())

	_, err := s.SearchDatabase(context.Background(), []string{"a"}, 0.3, "p1")
	assert.ErrorIs(t, err, ErrDatabaseSearchUnsupported)
	_, _, err = s.SearchExactPaginated(context.Background(), "a", "p1", PaginationOptions{})
	assert.ErrorIs(t, err, ErrDatabaseSearchUnsupported)
}

func TestSQLiteStrategy_DefaultThreshold(t *testing.T) {
	s := NewSQLiteStrategy(setupTestProvider(t, nil), DefaultConfig(), DefaultLimits(), nil)
	assert.Equal(t, DefaultFuzzyThreshold, s.DefaultThreshold())

	s = NewSQLiteStrategy(setupTestProvider(t, nil), Config{FuzzyThreshold: 0.5}, DefaultLimits(), nil)
	assert.Equal(t, 0.5, s.DefaultThreshold())

	s = NewSQLiteStrategy(setupTestProvider(t, nil), Config{FuzzyThreshold: 0}, DefaultLimits(), nil)
	assert.Equal(t, 0.0, s.DefaultThreshold(), "zero is a valid threshold")

	s = NewSQLiteStrategy(setupTestProvider(t, nil), Config{FuzzyThreshold: 1.5}, DefaultLimits(), nil)
	assert.Equal(t, DefaultFuzzyThreshold, s.DefaultThreshold(), "out of range falls back to the default")
}

func TestGetAllEntities_CapsAndWarns(t *testing.T) {
	provider := setupTestProvider(t, numberedGraph(120))
	logger, buf := newBufferLogger()
	s := NewSQLiteStrategy(provider, DefaultConfig(), NewLimits(0, 0, 100, 0), logger)

	entities, err := s.GetAllEntities(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, entities, 100)
	assert.Contains(t, buf.String(), "client-side entity cap reached")

	again, err := s.GetAllEntities(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, entityNames(entities), entityNames(again), "truncation is deterministic")
}

func TestGetAllEntities_UnderCapDoesNotWarn(t *testing.T) {
	provider := setupTestProvider(t, numberedGraph(5))
	logger, buf := newBufferLogger()
	s := NewSQLiteStrategy(provider, DefaultConfig(), DefaultLimits(), logger)

	entities, err := s.GetAllEntities(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, entities, 5)
	assert.NotContains(t, buf.String(), "cap reached")
}

func TestGetAllEntities_NotInitialized(t *testing.T) {
	cfg, err := store.NewConfig(store.StorageTypeSQLite, "sqlite://:memory:", store.Options{})
	require.NoError(t, err)
	provider, err := store.NewSQLiteProvider(cfg, nil)
	require.NoError(t, err)

	s := NewSQLiteStrategy(provider, DefaultConfig(), DefaultLimits(), nil)
	_, err = s.GetAllEntities(context.Background(), "p1")
	assert.ErrorIs(t, err, store.ErrNotInitialized)
}

func TestGetEntitiesPaginated_MatchesBulkOrder(t *testing.T) {
	provider := setupTestProvider(t, numberedGraph(25))
	s := NewSQLiteStrategy(provider, DefaultConfig(), DefaultLimits(), nil)
	ctx := context.Background()

	all, err := s.GetAllEntities(ctx, "p1")
	require.NoError(t, err)

	var paged []store.Entity
	for page := 0; page < 3; page++ {
		data, total, err := s.GetEntitiesPaginated(ctx, "p1", PaginationOptions{Page: page, PageSize: 10})
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		paged = append(paged, data...)
	}
	assert.Equal(t, entityNames(all), entityNames(paged))
}

func TestSearchClientSide_ChunkingDoesNotChangeResults(t *testing.T) {
	graph := numberedGraph(250)
	provider := setupTestProvider(t, nil)
	queries := []string{"node-01", "observation number 2", "group-1"}

	small := NewSQLiteStrategy(provider, DefaultConfig(), NewLimits(0, 0, 0, 100), nil)
	large := NewSQLiteStrategy(provider, DefaultConfig(), NewLimits(0, 0, 0, 10000), nil)

	got := small.SearchClientSide(graph.Entities, queries, threshold(0.9))
	want := large.SearchClientSide(graph.Entities, queries, threshold(0.9))
	require.NotEmpty(t, want)
	assert.Equal(t, entityNames(want), entityNames(got))
}

func TestSearchClientSide_ThresholdPrecedence(t *testing.T) {
	provider := setupTestProvider(t, nil)
	entities := []store.Entity{{Name: "Alpha", EntityType: "Project"}}

	cfg := DefaultConfig()
	cfg.Client.Threshold = threshold(0.9)
	s := NewSQLiteStrategy(provider, cfg, DefaultLimits(), nil)

	// "alpah" scores 0.8 against "Alpha".
	assert.Empty(t, s.SearchClientSide(entities, []string{"alpah"}, nil), "client threshold applies when the call passes none")
	assert.Len(t, s.SearchClientSide(entities, []string{"alpah"}, threshold(0.5)), 1, "an explicit threshold wins")
	assert.Len(t, s.SearchClientSide(entities, []string{"alpah"}, threshold(0)), 1, "an explicit zero is honoured")
}

func TestSearchClientSide_FirstSeenAcrossTerms(t *testing.T) {
	provider := setupTestProvider(t, nil)
	s := NewSQLiteStrategy(provider, DefaultConfig(), DefaultLimits(), nil)
	entities := []store.Entity{
		{Name: "B", EntityType: "x", Observations: []string{"ba"}},
		{Name: "A", EntityType: "x", Observations: []string{"ab", "ba"}},
	}

	got := s.SearchClientSide(entities, []string{"ab", "ba"}, threshold(1.0))
	assert.Equal(t, []string{"A", "B"}, entityNames(got))
}
