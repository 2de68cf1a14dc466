package tools

import (
	"context"
	"encoding/json"

	"memoria/internal/errs"
	"memoria/internal/llm"
	"memoria/internal/llmclient"
)

// SummariseToolName identifies the meta-agent's context-compression tool
// (§4.7's token/context management: "the assembler summarises the oldest
// non-system messages by delegating to the meta-agent with a summarise
// tool").
const SummariseToolName = "summarise"

type summariseArgs struct {
	Text string `json:"text"`
}

// NewSummariseTool returns the summarise tool, backed by one non-streaming
// LLM Client call against the configured provider and model. A failure is
// returned from Call; the registry's Dispatch turns it into an
// {"ok": false, "error": ...} tool result instead of propagating it.
func NewSummariseTool(client *llmclient.Client, provider, model string) Tool {
	return &memoryTool{
		name:        SummariseToolName,
		description: "Compress a block of conversation history into a short note preserving the facts a reply might need.",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a summariseArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, errs.New(errs.InvalidInput, "invalid summarise arguments", err)
			}
			resp, err := client.Complete(ctx, llmclient.Request{
				Provider: provider,
				Model:    model,
				Messages: []llm.Message{
					{Role: "system", Content: "Summarise the following conversation excerpt in under 200 words, preserving names, decisions and facts."},
					{Role: "user", Content: a.Text},
				},
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "summary": resp.Message.Content}, nil
		},
	}
}
