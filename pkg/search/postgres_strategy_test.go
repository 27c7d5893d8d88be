package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/kgstore/pkg/store"
)

// trigramProvider is a postgres-typed provider stub for capability checks.
type trigramProvider struct {
	trigram bool
}

func (p *trigramProvider) Type() store.StorageType              { return store.StorageTypePostgreSQL }
func (p *trigramProvider) Initialize(ctx context.Context) error { return nil }
func (p *trigramProvider) Close() error                         { return nil }
func (p *trigramProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *trigramProvider) DB() *sql.DB                          { return nil }
func (p *trigramProvider) TrigramEnabled() bool                 { return p.trigram }
func (p *trigramProvider) SaveGraph(ctx context.Context, g *store.KnowledgeGraph, project string) error {
	return nil
}
func (p *trigramProvider) LoadGraph(ctx context.Context, project string) (*store.KnowledgeGraph, error) {
	return &store.KnowledgeGraph{}, nil
}

func TestPostgresStrategy_CanUseDatabase(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, NewPostgresStrategy(&trigramProvider{trigram: true}, cfg, DefaultLimits(), nil).CanUseDatabase())
	assert.False(t, NewPostgresStrategy(&trigramProvider{trigram: false}, cfg, DefaultLimits(), nil).CanUseDatabase())

	cfg.UseDatabaseSearch = false
	assert.False(t, NewPostgresStrategy(&trigramProvider{trigram: true}, cfg, DefaultLimits(), nil).CanUseDatabase())
}

func TestPostgresStrategy_Capabilities(t *testing.T) {
	s := NewPostgresStrategy(&trigramProvider{trigram: true}, DefaultConfig(), DefaultLimits(), nil)
	assert.Equal(t, Capabilities{PaginatedSearch: true, PaginatedExact: true, PaginatedBulk: true}, s.Capabilities())
}

func TestPostgresStrategy_NotInitialized(t *testing.T) {
	s := NewPostgresStrategy(&trigramProvider{trigram: true}, DefaultConfig(), DefaultLimits(), nil)

	_, err := s.SearchDatabase(context.Background(), []string{"a"}, 0.3, "p1")
	assert.ErrorIs(t, err, store.ErrNotInitialized)
}

func TestBuildFuzzyBatchQuery(t *testing.T) {
	query, args := buildFuzzyBatchQuery([]string{"ab", "ba", "cd"}, "p1", 0.4, 25)

	assert.Equal(t, []any{"p1", 0.4, 25, "ab", "ba", "cd"}, args)
	assert.Equal(t, 2, strings.Count(query, "UNION ALL"))
	for i, param := range []string{"$4", "$5", "$6"} {
		assert.Contains(t, query, fmt.Sprintf("SELECT %d AS term_idx", i))
		assert.Contains(t, query, "similarity(name, "+param+")")
		assert.Contains(t, query, "similarity(observations::text, "+param+")")
		assert.Contains(t, query, "similarity(tags::text, "+param+")")
	}
	assert.Equal(t, 3, strings.Count(query, "LIMIT $3"))
	assert.True(t, strings.HasSuffix(query, "ORDER BY term_idx ASC, score DESC, name ASC"))
}

func TestBuildFuzzyBatchQuery_SingleTerm(t *testing.T) {
	query, args := buildFuzzyBatchQuery([]string{"alpha"}, "p1", 0.3, 100)

	assert.Len(t, args, 4)
	assert.NotContains(t, query, "UNION ALL")
	assert.Contains(t, query, "> $2")
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%alpha%", likePattern("alpha"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}

// fakeTermIndex returns, per term, the entities a database would rank for it.
func fakeTermIndex(index map[string][]store.Entity) (func(context.Context, []string) ([]store.Entity, error), *[][]string) {
	var batches [][]string
	return func(ctx context.Context, batch []string) ([]store.Entity, error) {
		batches = append(batches, append([]string(nil), batch...))
		var rows []store.Entity
		for _, term := range batch {
			rows = append(rows, index[term]...)
		}
		return rows, nil
	}, &batches
}

func TestSearchBatches_DedupOrderIndependentOfBatchSize(t *testing.T) {
	a := store.Entity{Name: "A"}
	b := store.Entity{Name: "B"}
	index := map[string][]store.Entity{
		"ab": {a},
		"ba": {b, a},
	}

	for _, batchSize := range []int{1, 2, 10} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			s := NewPostgresStrategy(&trigramProvider{}, DefaultConfig(), NewLimits(0, batchSize, 0, 0), nil)
			run, batches := fakeTermIndex(index)

			got, err := s.searchBatches(context.Background(), []string{"ab", "ba"}, run)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, entityNames(got))
			assert.Len(t, *batches, (2+batchSize-1)/batchSize)
		})
	}
}

func TestSearchBatches_SplitsAndCaps(t *testing.T) {
	index := map[string][]store.Entity{}
	var terms []string
	for i := 0; i < 7; i++ {
		term := fmt.Sprintf("t%d", i)
		terms = append(terms, term)
		index[term] = []store.Entity{{Name: fmt.Sprintf("E%d", i)}, {Name: fmt.Sprintf("F%d", i)}}
	}

	s := NewPostgresStrategy(&trigramProvider{}, DefaultConfig(), NewLimits(5, 3, 0, 0), nil)
	run, batches := fakeTermIndex(index)

	got, err := s.searchBatches(context.Background(), append(terms, "  "), run)
	require.NoError(t, err)
	assert.Equal(t, []string{"E0", "F0", "E1", "F1", "E2"}, entityNames(got))
	assert.Equal(t, [][]string{{"t0", "t1", "t2"}}, *batches, "stops once MaxResults is reached")
}

func TestSearchBatches_PropagatesError(t *testing.T) {
	s := NewPostgresStrategy(&trigramProvider{}, DefaultConfig(), NewLimits(0, 1, 0, 0), nil)
	boom := errors.New("boom")

	_, err := s.searchBatches(context.Background(), []string{"a", "b"}, func(ctx context.Context, batch []string) ([]store.Entity, error) {
		if batch[0] == "b" {
			return nil, boom
		}
		return []store.Entity{{Name: "A"}}, nil
	})
	assert.ErrorIs(t, err, boom)
}

// TestPostgresStrategy_Integration exercises trigram search against a live server
// when KG_TEST_POSTGRES_URL is set.
func TestPostgresStrategy_Integration(t *testing.T) {
	conn := os.Getenv("KG_TEST_POSTGRES_URL")
	if conn == "" {
		t.Skip("KG_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()

	cfg, err := store.NewConfig(store.StorageTypePostgreSQL, conn, store.Options{})
	require.NoError(t, err)
	provider, err := store.NewPostgresProvider(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, provider.Initialize(ctx))
	t.Cleanup(func() { _ = provider.Close() })
	if !provider.TrigramEnabled() {
		t.Skip("pg_trgm not available on test server")
	}

	project := fmt.Sprintf("search_test_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = provider.SaveGraph(context.Background(), &store.KnowledgeGraph{}, project) })
	require.NoError(t, provider.SaveGraph(ctx, &store.KnowledgeGraph{Entities: []store.Entity{
		{Name: "Alpha", EntityType: "Project", Observations: []string{"desc"}, Tags: []string{"x"}},
		{Name: "Gamma", EntityType: "Concept", Observations: []string{"unrelated"}},
	}}, project))

	s := NewPostgresStrategy(provider, DefaultConfig(), DefaultLimits(), nil)
	require.True(t, s.CanUseDatabase())

	got, err := s.SearchDatabase(ctx, []string{"Alph"}, 0.3, project)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, entityNames(got))

	page, total, err := s.SearchExactPaginated(ctx, "alp", project, PaginationOptions{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"Alpha"}, entityNames(page))

	page, total, err = s.SearchDatabasePaginated(ctx, "Alph", 0.3, project, PaginationOptions{PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{"Alpha"}, entityNames(page))
}
