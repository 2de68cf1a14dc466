package providers

import (
	"fmt"
	"net/http"

	"memoria/internal/config"
	"memoria/internal/llm"
	"memoria/internal/llm/anthropic"
	"memoria/internal/llm/google"
	openaillm "memoria/internal/llm/openai"
)

// Build constructs the llm.Provider for one provider name, independent of
// which provider an agent or the process default selects. DeepSeek reuses
// the OpenAI client against its own base URL since it exposes the same
// /chat/completions surface.
func Build(name string, cfg config.LLMConfig, httpClient *http.Client) (llm.Provider, error) {
	switch name {
	case "openai":
		return openaillm.New(cfg.OpenAI, httpClient), nil
	case "deepseek":
		return openaillm.New(cfg.DeepSeek, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.Anthropic, httpClient), nil
	case "google":
		return google.New(cfg.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}

// BuildAll constructs a Provider for every one of the four providers so the
// LLM Client facade can dispatch per-agent/per-user model selection without
// reconnecting on every call.
func BuildAll(cfg config.LLMConfig, httpClient *http.Client) (map[string]llm.Provider, error) {
	out := make(map[string]llm.Provider, 4)
	for _, name := range []string{"openai", "deepseek", "anthropic", "google"} {
		p, err := Build(name, cfg, httpClient)
		if err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}
