package tools

import (
	"context"
	"encoding/json"
)

// SendMessageToolName is checked by name at the Step Loop layer: a
// send_message call is a loop-termination signal (§4.7), not an ordinary
// side-effecting tool, so the loop intercepts it before generic dispatch and
// this Tool only exists so the name appears in the model's tool schema.
const SendMessageToolName = "send_message"

type sendMessageArgs struct {
	Message string `json:"message"`
}

// NewSendMessageTool returns the send_message tool. Its Call is reachable
// (e.g. from a direct registry.Dispatch in tests) and simply echoes the
// message back; the Step Loop never calls Dispatch for this name in
// production, it pattern-matches on the tool call first.
func NewSendMessageTool() Tool {
	return &memoryTool{
		name:        SendMessageToolName,
		description: "Send the final user-visible reply and end the step loop.",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"message"},
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a sendMessageArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "message": a.Message}, nil
		},
	}
}
