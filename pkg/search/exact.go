package search

import (
	"strings"

	"github.com/dan-solli/kgstore/pkg/store"
)

// MatchesExact reports whether query is a case-insensitive substring of the
// entity's name, type, any observation or any tag.
func MatchesExact(e store.Entity, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.EntityType), q) {
		return true
	}
	for _, o := range e.Observations {
		if strings.Contains(strings.ToLower(o), q) {
			return true
		}
	}
	for _, t := range e.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// ExactSearch returns the entities matching query, in input order.
func ExactSearch(entities []store.Entity, query string) []store.Entity {
	out := []store.Entity{}
	for _, e := range entities {
		if MatchesExact(e, query) {
			out = append(out, e)
		}
	}
	return out
}

// FilterByTags keeps entities whose tags intersect (TagMatchAny) or contain
// (TagMatchAll) the given tags. Tag comparison is exact. No tags keeps everything.
func FilterByTags(entities []store.Entity, tags []string, mode TagMatch) []store.Entity {
	if len(tags) == 0 {
		return entities
	}

	out := []store.Entity{}
	for _, e := range entities {
		have := make(map[string]struct{}, len(e.Tags))
		for _, t := range e.Tags {
			have[t] = struct{}{}
		}

		hits := 0
		for _, t := range tags {
			if _, ok := have[t]; ok {
				hits++
			}
		}

		if (mode == TagMatchAll && hits == len(tags)) || (mode != TagMatchAll && hits > 0) {
			out = append(out, e)
		}
	}
	return out
}
