package search

import (
	"strings"
	"unicode/utf8"

	"github.com/dan-solli/kgstore/pkg/store"
)

// fieldWeights rank matches by the field they hit. They never decide whether an
// entity matches; only the raw similarity is compared with the threshold.
var fieldWeights = map[Field]float64{
	FieldName:         1.0,
	FieldEntityType:   0.8,
	FieldObservations: 0.6,
	FieldTags:         0.7,
}

var allFields = []Field{FieldName, FieldEntityType, FieldObservations, FieldTags}

// Matcher scores entities against a query by approximate substring similarity.
// It is safe for concurrent use.
type Matcher struct {
	distance       int
	ignoreLocation bool
	fields         []Field
}

// Scored is an entity with its weighted match score.
type Scored struct {
	Entity store.Entity
	Score  float64
}

// NewMatcher builds a Matcher from client options.
func NewMatcher(opts ClientOptions) *Matcher {
	m := &Matcher{
		distance:       opts.Distance,
		ignoreLocation: opts.IgnoreLocation,
	}
	if m.distance <= 0 {
		m.distance = defaultMatchDistance
	}
	for _, f := range opts.Keys {
		if _, ok := fieldWeights[f]; ok {
			m.fields = append(m.fields, f)
		}
	}
	if len(m.fields) == 0 {
		m.fields = allFields
	}
	return m
}

// Rank returns the matching entities in descending score order. Ties keep input order.
func (m *Matcher) Rank(entities []store.Entity, query string, threshold float64) []Scored {
	q := []rune(strings.ToLower(query))
	if len(q) == 0 {
		return nil
	}
	var out []Scored
	for _, e := range entities {
		if score, ok := m.match(e, q, threshold); ok {
			out = append(out, Scored{Entity: e, Score: score})
		}
	}
	sortScored(out)
	return out
}

func (m *Matcher) match(e store.Entity, q []rune, threshold float64) (float64, bool) {
	best, matched := 0.0, false
	consider := func(f Field, value string) {
		sim := m.similarity(q, strings.ToLower(value))
		if sim < threshold || sim == 0 {
			return
		}
		matched = true
		if w := fieldWeights[f] * sim; w > best {
			best = w
		}
	}

	for _, f := range m.fields {
		switch f {
		case FieldName:
			consider(f, e.Name)
		case FieldEntityType:
			consider(f, e.EntityType)
		case FieldObservations:
			for _, o := range e.Observations {
				consider(f, o)
			}
		case FieldTags:
			for _, t := range e.Tags {
				consider(f, t)
			}
		}
	}
	return best, matched
}

// similarity expects a non-empty lower-cased query and a lower-cased value.
func (m *Matcher) similarity(q []rune, value string) float64 {
	var errs, loc int
	if idx := strings.Index(value, string(q)); idx >= 0 {
		loc = utf8.RuneCountInString(value[:idx])
	} else {
		errs, loc = substringDistance(q, []rune(value))
	}

	score := float64(errs) / float64(len(q))
	if !m.ignoreLocation {
		score += float64(loc) / float64(m.distance)
	}
	return min(max(1-score, 0), 1)
}

// substringDistance returns the smallest edit distance between pattern and any
// substring of text, and the rune offset at which that substring starts
// (Sellers' algorithm: matching may begin at any text position for free).
func substringDistance(pattern, text []rune) (int, int) {
	m := len(pattern)
	prev, cur := make([]int, m+1), make([]int, m+1)
	prevStart, curStart := make([]int, m+1), make([]int, m+1)
	for i := range prev {
		prev[i] = i
	}

	best, bestStart := prev[m], 0
	for j := 1; j <= len(text); j++ {
		cur[0], curStart[0] = 0, j
		for i := 1; i <= m; i++ {
			cost := 1
			if pattern[i-1] == text[j-1] {
				cost = 0
			}
			d, s := prev[i-1]+cost, prevStart[i-1]
			if prev[i]+1 < d {
				d, s = prev[i]+1, prevStart[i]
			}
			if cur[i-1]+1 < d {
				d, s = cur[i-1]+1, curStart[i-1]
			}
			cur[i], curStart[i] = d, s
		}
		if cur[m] < best {
			best, bestStart = cur[m], curStart[m]
		}
		prev, cur = cur, prev
		prevStart, curStart = curStart, prevStart
	}
	return best, bestStart
}
