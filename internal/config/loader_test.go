package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "POSTGRES_DSN")
	t.Setenv("OPENAI_API_KEY", "test-key")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memoria")
	t.Setenv("OPENAI_API_KEY", "test-key")
	clearEnv(t, "LLM_PROVIDER", "VECTOR_BACKEND", "EMBED_STORAGE_DIMENSION", "EMBED_DIMENSION")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "deepseek", cfg.LLM.DefaultProvider)
	require.Equal(t, "pgvector", cfg.Database.VectorBackend)
	require.Equal(t, 20, cfg.StepLoop.MaxSteps)
	require.GreaterOrEqual(t, cfg.Embedding.StorageDim, cfg.Embedding.Dimension)
}

func TestLoadRejectsBadProvider(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memoria")
	t.Setenv("LLM_PROVIDER", "notareal provider")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvertedEmbeddingDims(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/memoria")
	t.Setenv("EMBED_DIMENSION", "2000")
	t.Setenv("EMBED_STORAGE_DIMENSION", "100")
	_, err := Load()
	require.Error(t, err)
}
