package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgVectorIndex is the pgvector-backed VectorIndex. One physical table holds
// every memory class's vectors; class and user_id are indexed columns (not
// just JSONB metadata) because the per-user isolation filter in every query
// is an invariant, not an optional facet.
type pgVectorIndex struct {
	pool       *pgxpool.Pool
	dimensions int
	metric     string // cosine|l2|ip
}

// NewPgVectorIndex bootstraps the pgvector extension and backing table.
func NewPgVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int, metric string) (VectorIndex, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	vecType := "vector"
	if dimensions > 0 {
		vecType = fmt.Sprintf("vector(%d)", dimensions)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memory_vectors (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  class TEXT NOT NULL,
  vec %s NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS memory_vectors_user_class_idx ON memory_vectors(user_id, class);
`, vecType)); err != nil {
		return nil, fmt.Errorf("create memory_vectors table: %w", err)
	}
	return &pgVectorIndex{pool: pool, dimensions: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}, nil
}

func (p *pgVectorIndex) Upsert(ctx context.Context, userID, class, id string, vector []float32, metadata map[string]string) error {
	vecLit := toVectorLiteral(vector)
	_, err := p.pool.Exec(ctx, `
INSERT INTO memory_vectors(id, user_id, class, vec, metadata) VALUES($1, $2, $3, $4::vector, $5)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, id, userID, class, vecLit, metadata)
	return err
}

func (p *pgVectorIndex) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_vectors WHERE id=$1`, id)
	return err
}

func (p *pgVectorIndex) SimilaritySearch(ctx context.Context, userID, class string, vector []float32, k int) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(vector)
	op := "<=>"
	scoreExpr := "1 - (vec <=> $1::vector)"
	switch p.metric {
	case "l2", "euclidean":
		op = "<->"
		scoreExpr = "-(vec <-> $1::vector)"
	case "ip", "dot":
		op = "<#>"
		scoreExpr = "-(vec <#> $1::vector)"
	}
	query := fmt.Sprintf(`
SELECT id, %s AS score, metadata FROM memory_vectors
WHERE user_id=$2 AND class=$3
ORDER BY vec %s $1::vector LIMIT $4`, scoreExpr, op)
	rows, err := p.pool.Query(ctx, query, vecLit, userID, class, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]VectorResult, 0, k)
	for rows.Next() {
		var r VectorResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *pgVectorIndex) Dimension() int { return p.dimensions }

func (p *pgVectorIndex) Close() error { return nil }

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	b := strings.Builder{}
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(fmt.Sprintf("%g", x))
	}
	b.WriteByte(']')
	return b.String()
}
