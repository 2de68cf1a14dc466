package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func TestPgVectorIndexUpsertAndSearchScopesByUserAndClass(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	idx, err := NewPgVectorIndex(ctx, pool, 4, "cosine")
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Upsert(ctx, "user-a", "episodic", "mem-1", []float32{1, 0, 0, 0}, map[string]string{"kind": "note"}))
	require.NoError(t, idx.Upsert(ctx, "user-b", "episodic", "mem-2", []float32{1, 0, 0, 0}, nil))

	results, err := idx.SimilaritySearch(ctx, "user-a", "episodic", []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "mem-1", results[0].ID)

	require.NoError(t, idx.Delete(ctx, "mem-1"))
	results, err = idx.SimilaritySearch(ctx, "user-a", "episodic", []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
