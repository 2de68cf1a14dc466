package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"memoria/internal/config"

	"github.com/stretchr/testify/require"
)

func TestEmbedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResp{}
		for range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{0.1, 0.2, 0.3}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := config.EmbeddingConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model", Timeout: 5 * time.Second}
	out, err := EmbedText(context.Background(), cfg, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, out[0])
}

func TestEmbedTextRejectsEmpty(t *testing.T) {
	_, err := EmbedText(context.Background(), config.EmbeddingConfig{}, nil)
	require.Error(t, err)
}
