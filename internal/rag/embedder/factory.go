package embedder

import "memoria/internal/config"

// Build selects the configured Embedder implementation. "deterministic"
// (the default) needs no credentials and is reproducible across runs, which
// is what the offline/test paths in this codebase rely on; any other
// provider name is treated as an OpenAI-compatible HTTP embeddings endpoint
// (OpenAI itself, or Google's embeddings surface fronted the same way).
func Build(cfg config.EmbeddingConfig) Embedder {
	if cfg.Provider == "deterministic" || cfg.Provider == "" {
		return NewDeterministic(cfg.Dimension, true, 0)
	}
	return NewClient(cfg, cfg.Dimension)
}
