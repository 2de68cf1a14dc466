// Package streaming implements the Streaming Dispatcher (§4.8): translates
// Step Loop events into an SSE envelope stream, applying a 30s heartbeat and
// a bounded back-pressure queue, and short-circuits before the Step Loop
// runs at all when the agent's model has no credentials configured.
package streaming

import (
	"context"
	"time"

	"memoria/internal/config"
	"memoria/internal/errs"
	"memoria/internal/llmclient"
	"memoria/internal/steploop"
	"memoria/internal/store"
)

// Envelope is one SSE event's JSON body. Type is always one of §4.8's event
// names: start, intermediate, tool, confirmation_request, missing_api_keys,
// heartbeat, final, error, end.
type Envelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Writer is the transport-facing sink an http.ResponseWriter-backed adapter
// implements; Dispatcher only depends on this, not on net/http, so it's
// testable without a live connection.
type Writer interface {
	WriteEvent(Envelope) error
}

// Request is the streaming chat request body (§4.8).
type Request struct {
	AgentID          string
	UserID           string
	Message          string
	ImageURIs        []string
	Memorizing       bool
	ScreenMonitoring bool
}

// Dispatcher bridges one Step Loop run to an SSE Writer.
type Dispatcher struct {
	Loop *steploop.Loop
	LLM  *llmclient.Client
	Cfg  config.StreamConfig
}

// sinkAdapter implements steploop.Sink over a bounded channel a separate
// goroutine drains into the Writer, so a blocked/slow HTTP write applies
// back-pressure to the Step Loop itself rather than buffering unboundedly
// (§4.8's "if full, the producer blocks").
type sinkAdapter struct {
	ch chan steploop.Event
}

func (s *sinkAdapter) Emit(ctx context.Context, ev steploop.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return errs.New(errs.Cancelled, "sink emit cancelled", ctx.Err())
	}
}

// Run serves one streaming chat request end to end: missing-credential
// short-circuit, Step Loop execution on a bounded event channel, heartbeat
// ticker, and translation of each steploop.Event into an Envelope written
// to w. It returns once the stream is fully drained (or ctx is cancelled).
func (d *Dispatcher) Run(ctx context.Context, req Request, agent store.Agent, w Writer) error {
	if missingVar, present := d.credentialPresent(agent); !present {
		return w.WriteEvent(Envelope{Type: "missing_api_keys", Data: map[string]any{
			"provider": agent.LLMProvider, "missing": missingVar,
		}})
	}

	depth := d.Cfg.QueueDepth
	if depth <= 0 {
		depth = 64
	}
	sink := &sinkAdapter{ch: make(chan steploop.Event, depth)}

	in := steploop.Input{
		AgentID:          req.AgentID,
		UserID:           req.UserID,
		Messages:         []steploop.IncomingMessage{{Content: req.Message, ImageRefs: req.ImageURIs}},
		Memorizing:       req.Memorizing,
		ScreenMonitoring: req.ScreenMonitoring,
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		defer close(sink.ch)
		_, runErr = d.Loop.Run(ctx, in, sink)
	}()

	heartbeat := d.Cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sink.ch:
			if !ok {
				if runErr != nil && !errs.Is(runErr, errs.Cancelled) {
					if err := w.WriteEvent(Envelope{Type: "error", Data: map[string]any{"message": runErr.Error()}}); err != nil {
						return err
					}
				}
				return w.WriteEvent(Envelope{Type: "end"})
			}
			ticker.Reset(heartbeat)
			if err := w.WriteEvent(translate(ev)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := w.WriteEvent(Envelope{Type: "heartbeat"}); err != nil {
				return err
			}
		case <-ctx.Done():
			<-done
			return ctx.Err()
		}
	}
}

// credentialPresent delegates to the LLM Client facade's own credential
// check so the dispatcher and the Step Loop never disagree about what
// "configured" means, without making a provider call just to find out.
func (d *Dispatcher) credentialPresent(agent store.Agent) (missingVar string, ok bool) {
	return d.LLM.CredentialStatus(agent.LLMProvider)
}

func translate(ev steploop.Event) Envelope {
	data := map[string]any{}
	switch ev.Type {
	case steploop.EventIntermediate:
		data["kind"] = string(ev.Intermediate)
		data["content"] = ev.Content
	case steploop.EventTool:
		data["tool"] = ev.ToolName
		data["tool_call_id"] = ev.ToolCallID
		data["result"] = ev.ToolResult
	case steploop.EventConfirmationRequest:
		data["confirmation_id"] = ev.ConfirmationID
		data["prompt"] = ev.ConfirmationText
		data["tool_call_id"] = ev.ToolCallID
	case steploop.EventFinal:
		data["content"] = ev.Content
		data["cancelled"] = ev.Cancelled
	case steploop.EventError:
		if ev.Err != nil {
			data["message"] = ev.Err.Error()
		}
	}
	return Envelope{Type: string(ev.Type), Data: data}
}
