// Package search provides exact and fuzzy entity search over stored knowledge graphs.
//
// A Strategy knows what one storage backend can do (database similarity search,
// paginated queries) and a Manager decides, per request, which path to take and
// when to fall back to client-side matching.
package search

import (
	"errors"

	"github.com/dan-solli/kgstore/pkg/store"
)

// Mode selects how query terms are matched.
type Mode string

const (
	// ModeFuzzy matches by similarity score against a threshold.
	ModeFuzzy Mode = "fuzzy"

	// ModeExact matches case-insensitive substrings. Thresholds do not apply.
	ModeExact Mode = "exact"
)

// TagMatch selects how the tag filter combines tags.
type TagMatch string

const (
	// TagMatchAny keeps entities carrying at least one of the requested tags.
	TagMatchAny TagMatch = "any"

	// TagMatchAll keeps entities carrying every requested tag.
	TagMatchAll TagMatch = "all"
)

// ErrDatabaseSearchUnsupported is returned by strategies whose backend has no
// native similarity search.
var ErrDatabaseSearchUnsupported = errors.New("database search not supported by this backend")

// Options configures a single search call.
type Options struct {
	Mode Mode // default: ModeFuzzy

	// FuzzyThreshold overrides the strategy threshold for this call (fuzzy mode only).
	FuzzyThreshold *float64

	// Tags filters results by exact tag; empty means no filtering.
	Tags     []string
	TagMatch TagMatch // default: TagMatchAny
}

func (o Options) mode() Mode {
	if o.Mode == ModeExact {
		return ModeExact
	}
	return ModeFuzzy
}

func (o Options) tagMatch() TagMatch {
	if o.TagMatch == TagMatchAll {
		return TagMatchAll
	}
	return TagMatchAny
}

// Request is a search over one project.
type Request struct {
	Project string

	// Queries are searched in order; results are deduplicated by entity name,
	// keeping the position of the first match.
	Queries []string

	// Entities is the candidate set for exact and client-side search. When nil
	// the candidates are loaded with Strategy.GetAllEntities.
	Entities []store.Entity

	Options Options
}

// dedup accumulates entities in first-seen order, keyed by name.
type dedup struct {
	seen   map[string]struct{}
	result []store.Entity
}

func newDedup(capacity int) *dedup {
	return &dedup{
		seen:   make(map[string]struct{}, capacity),
		result: make([]store.Entity, 0, capacity),
	}
}

func (d *dedup) add(entities []store.Entity) {
	for _, e := range entities {
		if _, ok := d.seen[e.Name]; ok {
			continue
		}
		d.seen[e.Name] = struct{}{}
		d.result = append(d.result, e)
	}
}

func (d *dedup) len() int {
	return len(d.result)
}

// MergeFirstSeen concatenates result lists, keeping the first occurrence of each entity name.
func MergeFirstSeen(lists ...[]store.Entity) []store.Entity {
	d := newDedup(0)
	for _, l := range lists {
		d.add(l)
	}
	return d.result
}
