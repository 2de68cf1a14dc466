package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func TestStripStopwords(t *testing.T) {
	require.Equal(t, "quick fox jumps", stripStopwords("the quick a fox jumps over an that"))
}

func TestPgLexicalIndexScopesByUserAndClass(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	idx, err := NewPgLexicalIndex(ctx, pool)
	require.NoError(t, err)

	require.NoError(t, idx.Index(ctx, "user-a", "semantic", "doc-1", "the quarterly roadmap review"))
	require.NoError(t, idx.Index(ctx, "user-b", "semantic", "doc-2", "the quarterly roadmap review"))

	results, err := idx.Search(ctx, "user-a", "semantic", "roadmap review", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc-1", results[0].ID)

	require.NoError(t, idx.Remove(ctx, "doc-1"))
	results, err = idx.Search(ctx, "user-a", "semantic", "roadmap review", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}
