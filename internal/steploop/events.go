// Package steploop implements the Step Loop (§4.7): the per-turn procedure
// that persists messages, assembles context, calls the LLM Client, dispatches
// tool calls, and loops until termination.
package steploop

import (
	"context"
	"time"
)

// EventType enumerates the SSE envelope types the Streaming Dispatcher
// relays verbatim (§4.8). The Step Loop itself is transport-agnostic: it
// only produces Events, never writes SSE frames.
type EventType string

const (
	EventStart               EventType = "start"
	EventIntermediate        EventType = "intermediate"
	EventTool                EventType = "tool"
	EventConfirmationRequest EventType = "confirmation_request"
	EventFinal               EventType = "final"
	EventError               EventType = "error"
)

// IntermediateKind distinguishes the two intermediate sub-events §4.7 names.
type IntermediateKind string

const (
	IntermediateMonologue IntermediateKind = "internal_monologue"
	IntermediateResponse  IntermediateKind = "response"
)

// Event is one unit the Step Loop emits to its Sink. Only the fields
// relevant to Type are populated.
type Event struct {
	Type             EventType
	Intermediate     IntermediateKind
	Content          string
	ToolName         string
	ToolCallID       string
	ToolResult       any
	ConfirmationID   string
	ConfirmationText string
	Cancelled        bool
	Err              error
	At               time.Time
}

// Sink receives Step Loop events. Implementations that bridge to SSE (C8)
// apply their own back-pressure/heartbeat policy; Emit itself must honor ctx
// cancellation so a disconnected client unblocks a stuck producer (§4.8).
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}
