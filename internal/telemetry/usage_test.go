package telemetry

import (
	"context"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"memoria/internal/config"
	"memoria/internal/llm"
	"memoria/internal/llmclient"
	"memoria/internal/store"
)

func TestUsageSinkRecordPostgresOnly(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	st, err := store.NewStore(ctx, config.DatabaseConfig{DSN: dsn, VectorBackend: "pgvector", VectorMetric: "cosine"}, config.EmbeddingConfig{Dimension: 8, StorageDim: 8})
	require.NoError(t, err)

	sink, err := NewUsageSink(ctx, st, config.ClickHouseConfig{})
	require.NoError(t, err)
	defer sink.Close()

	rec := store.TokenUsageRecord{
		UserID:       "user-usage-test",
		AgentID:      "agent-usage-test",
		Provider:     "deepseek",
		Model:        "deepseek-chat",
		PromptTokens: 10,
		OutputTokens: 5,
		StopReason:   "stop",
	}
	sink.Record(ctx, rec)

	var count int
	err = st.Pool.QueryRow(ctx, `SELECT count(*) FROM token_usage WHERE user_id=$1 AND agent_id=$2`, rec.UserID, rec.AgentID).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUsageSinkOnUsageFillsFromResponse(t *testing.T) {
	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	st, err := store.NewStore(ctx, config.DatabaseConfig{DSN: dsn, VectorBackend: "pgvector", VectorMetric: "cosine"}, config.EmbeddingConfig{Dimension: 8, StorageDim: 8})
	require.NoError(t, err)

	sink, err := NewUsageSink(ctx, st, config.ClickHouseConfig{})
	require.NoError(t, err)
	defer sink.Close()

	resp := llmclient.Response{
		Message: llm.Message{
			Role:       "assistant",
			Content:    "hi",
			StopReason: "stop",
			Usage:      &llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		},
		Provider: "deepseek",
		Model:    "deepseek-chat",
		UserID:   "user-onusage-test",
		AgentID:  "agent-onusage-test",
	}
	sink.OnUsage(resp)

	var promptTokens, outputTokens int
	err = st.Pool.QueryRow(ctx, `SELECT prompt_tokens, output_tokens FROM token_usage WHERE user_id=$1 AND agent_id=$2`, resp.UserID, resp.AgentID).Scan(&promptTokens, &outputTokens)
	require.NoError(t, err)
	require.Equal(t, 3, promptTokens)
	require.Equal(t, 2, outputTokens)
}
