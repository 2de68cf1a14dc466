// Package store is the Store component (§4.1): the single seam through
// which every memory manager reaches durable state. It owns the relational
// schema for users, agents, messages, settings and the six memory-item
// classes, plus the pluggable vector and lexical search backends layered on
// top of the same Postgres connection pool.
package store

import "context"

// VectorResult is one hit from a similarity search, scored so that higher
// is always better regardless of the underlying distance metric.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorIndex is the embedding similarity-search backend. Every memory
// class's vectors live behind this one interface so the vector backend
// (pgvector vs. Qdrant) is an operational choice, not a code fork.
type VectorIndex interface {
	Upsert(ctx context.Context, userID, class, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	// SimilaritySearch always scopes to one user and one memory class —
	// cross-user leakage through the vector index is a correctness bug,
	// not a configuration option.
	SimilaritySearch(ctx context.Context, userID, class string, vector []float32, k int) ([]VectorResult, error)
	Dimension() int
	Close() error
}

// SearchResult is one hit from a lexical (BM25-style) search.
type SearchResult struct {
	ID      string
	Score   float64
	Snippet string
	Text    string
}

// LexicalIndex is the tsvector/ts_rank-backed keyword search used alongside
// vector search for hybrid retrieval, and alone for Knowledge-Vault items.
type LexicalIndex interface {
	Index(ctx context.Context, userID, class, id, text string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, userID, class, query string, k int) ([]SearchResult, error)
}
