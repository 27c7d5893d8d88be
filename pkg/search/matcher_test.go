package search

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-solli/kgstore/pkg/store"
)

func TestSubstringDistance(t *testing.T) {
	tests := []struct {
		pattern, text string
		wantErrs      int
		wantStart     int
	}{
		{"alph", "alpha", 0, 0},
		{"pha", "alpha", 0, 2},
		{"alpah", "alpha", 1, 0},
		{"xyz", "", 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.text, func(t *testing.T) {
			errs, start := substringDistance([]rune(tt.pattern), []rune(tt.text))
			assert.Equal(t, tt.wantErrs, errs)
			assert.Equal(t, tt.wantStart, start)
		})
	}
}

// score runs the matcher's similarity the way Rank does: lower-cased on both sides.
func score(m *Matcher, query, value string) float64 {
	return m.similarity([]rune(strings.ToLower(query)), strings.ToLower(value))
}

func TestMatcher_Similarity(t *testing.T) {
	m := NewMatcher(ClientOptions{IgnoreLocation: true})

	assert.Equal(t, 1.0, score(m, "Alph", "Alpha"), "substring is a perfect match")
	assert.Equal(t, 1.0, score(m, "ALPHA", "alpha"), "matching ignores case")
	assert.InDelta(t, 0.8, score(m, "alpah", "Alpha"), 1e-9)
	assert.Equal(t, 0.0, score(m, "zzzz", "Alpha"))
	assert.Empty(t, m.Rank([]store.Entity{{Name: "Alpha"}}, "", 0), "an empty query matches nothing")
}

func TestMatcher_LocationPenalty(t *testing.T) {
	m := NewMatcher(ClientOptions{Distance: 10})

	assert.Equal(t, 1.0, score(m, "ab", "abc"))
	assert.InDelta(t, 0.5, score(m, "ab", "xxxxxab"), 1e-9)
}

func TestMatcher_WeightsRankButDoNotGate(t *testing.T) {
	m := NewMatcher(ClientOptions{IgnoreLocation: true})
	byName := store.Entity{Name: "router", EntityType: "Device"}
	byObservation := store.Entity{Name: "gateway", EntityType: "Device", Observations: []string{"acts as a router"}}

	ranked := m.Rank([]store.Entity{byObservation, byName}, "router", 0.9)
	require.Len(t, ranked, 2, "an observation-only match still passes the threshold")
	assert.Equal(t, "router", ranked[0].Entity.Name)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.InDelta(t, 0.6, ranked[1].Score, 1e-9)
}

func TestMatcher_KeysRestrictFields(t *testing.T) {
	m := NewMatcher(ClientOptions{IgnoreLocation: true, Keys: []Field{FieldName}})
	e := store.Entity{Name: "gateway", EntityType: "Device", Tags: []string{"router"}}

	assert.Empty(t, m.Rank([]store.Entity{e}, "router", 0.9))
	assert.Len(t, m.Rank([]store.Entity{e}, "gateway", 0.9), 1)
}

func TestMatcher_ThresholdMonotonicity(t *testing.T) {
	m := NewMatcher(ClientOptions{IgnoreLocation: true})
	entities := []store.Entity{
		{Name: "Alpha", EntityType: "Project", Observations: []string{"desc"}, Tags: []string{"x"}},
		{Name: "Alphabet", EntityType: "Company"},
		{Name: "Alpine", EntityType: "Place"},
		{Name: "Beta", EntityType: "Project", Observations: []string{"follows alpha"}},
		{Name: "Gamma", EntityType: "Concept"},
	}

	names := func(threshold float64) map[string]bool {
		out := map[string]bool{}
		for _, s := range m.Rank(entities, "alpah", threshold) {
			out[s.Entity.Name] = true
		}
		return out
	}

	thresholds := []float64{0, 0.01, 0.1, 0.2, 0.3, 0.5, 0.7, 0.8, 0.9, 1.0}
	for i := 1; i < len(thresholds); i++ {
		loose, strict := names(thresholds[i-1]), names(thresholds[i])
		for name := range strict {
			assert.True(t, loose[name], fmt.Sprintf("%s matched at %.2f but not at %.2f", name, thresholds[i], thresholds[i-1]))
		}
	}
}
