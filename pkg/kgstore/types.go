package kgstore

import (
	"github.com/dan-solli/kgstore/pkg/search"
	"github.com/dan-solli/kgstore/pkg/store"
)

// Aliases for the graph model so callers only need this package.
type (
	Entity         = store.Entity
	Relation       = store.Relation
	KnowledgeGraph = store.KnowledgeGraph
	ProjectStats   = store.ProjectStats
)

// ObservationAddition appends observations to an existing entity.
type ObservationAddition struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// ObservationResult reports the observations that were actually added.
type ObservationResult struct {
	EntityName        string   `json:"entityName"`
	AddedObservations []string `json:"addedObservations"`
}

// ObservationDeletion removes observations from an entity.
type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// TagUpdate adds tags to, or removes tags from, an entity.
type TagUpdate struct {
	EntityName string   `json:"entityName"`
	Tags       []string `json:"tags"`
}

// TagResult reports the tags that changed on an entity.
type TagResult struct {
	EntityName string   `json:"entityName"`
	Tags       []string `json:"tags"`
}

// SearchPage is one page of search results plus the relations among its entities.
type SearchPage struct {
	*search.PaginationResult
	Relations []Relation `json:"relations"`
}
