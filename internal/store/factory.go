package store

import (
	"context"
	"fmt"

	"memoria/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewVectorIndex selects the configured vector backend. pgvector keeps
// embeddings next to the relational schema on the same connection pool;
// Qdrant is the alternative for deployments that want a dedicated vector
// database. Vectors are always stored at the embedder's padded dimension
// (EmbeddingConfig.StorageDim, D_pad), never the native D_model, so the
// column width tolerates provider/model changes.
func NewVectorIndex(ctx context.Context, db config.DatabaseConfig, emb config.EmbeddingConfig, pool *pgxpool.Pool) (VectorIndex, error) {
	switch db.VectorBackend {
	case "", "pgvector":
		return NewPgVectorIndex(ctx, pool, emb.StorageDim, db.VectorMetric)
	case "qdrant":
		return NewQdrantVectorIndex(ctx, db.QdrantAddr, "memory_vectors", emb.StorageDim, db.VectorMetric)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", db.VectorBackend)
	}
}

// NewStore wires the connection pool, the configured vector backend, the
// lexical index and the relational schema into one ready-to-use Store. This
// is the single constructor cmd/server calls at startup.
func NewStore(ctx context.Context, db config.DatabaseConfig, emb config.EmbeddingConfig) (*Store, error) {
	pool, err := OpenPool(ctx, db.DSN)
	if err != nil {
		return nil, err
	}
	vec, err := NewVectorIndex(ctx, db, emb, pool)
	if err != nil {
		return nil, err
	}
	lex, err := NewPgLexicalIndex(ctx, pool)
	if err != nil {
		return nil, err
	}
	return Open(ctx, pool, vec, lex)
}
