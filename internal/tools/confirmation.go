package tools

import (
	"context"
	"encoding/json"
)

// RequestConfirmationToolName is checked by name at the Step Loop layer
// (§4.7): a request_confirmation call creates a ticket, emits a
// confirmation_request event, and suspends the loop — effects the generic
// Tool.Call/Dispatch path can't produce on its own. As with send_message,
// this Tool exists so the call shape appears in the model's tool schema and
// remains directly callable (e.g. in tests); the Step Loop intercepts the
// call by name before reaching it in production.
const RequestConfirmationToolName = "request_confirmation"

type requestConfirmationArgs struct {
	Prompt string `json:"prompt"`
}

// NewRequestConfirmationTool returns the request_confirmation tool.
func NewRequestConfirmationTool() Tool {
	return &memoryTool{
		name:        RequestConfirmationToolName,
		description: "Ask the user to confirm a pending action before proceeding.",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a requestConfirmationArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "prompt": a.Prompt}, nil
		},
	}
}
