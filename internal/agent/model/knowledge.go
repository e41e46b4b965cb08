package model

import (
	"context"
	"maps"
)

// SearchResult is one knowledge-base hit after namespace-specific field mapping.
type SearchResult struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Namespace      Namespace      `json:"namespace"`
	RelevanceScore float64        `json:"relevance_score"`
	Language       Language       `json:"language"`
}

func (r SearchResult) clone() SearchResult {
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// VectorQuery is the vector index request.
type VectorQuery struct {
	Vector          []float64
	Namespace       Namespace
	TopK            int
	Filter          map[string]string
	IncludeMetadata bool
}

// Match is one raw vector index hit. Score is a similarity in [0, 1].
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// VectorIndex is the namespaced knowledge index.
type VectorIndex interface {
	Query(ctx context.Context, q VectorQuery) ([]Match, error)
}
