package steploop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"memoria/internal/agents"
	"memoria/internal/cache"
	"memoria/internal/config"
	"memoria/internal/errs"
	"memoria/internal/llm"
	"memoria/internal/llmclient"
	"memoria/internal/observability"
	"memoria/internal/queue"
	"memoria/internal/store"
	"memoria/internal/tools"
)

var tracer = otel.Tracer("memoria/steploop")

// IncomingMessage is one new user turn (§4.7's "ordered list of new user
// messages, possibly containing image references").
type IncomingMessage struct {
	Content   string
	ImageRefs []string
}

// Input is the Step Loop's full parameter set (§4.7).
type Input struct {
	AgentID          string
	UserID           string
	Messages         []IncomingMessage
	Memorizing       bool
	ScreenMonitoring bool
}

// Result is the outcome of one Run.
type Result struct {
	Reply     string
	Cancelled bool
}

// MemoriseProducer publishes a memorising Job onto the Background
// Memorising Queue (§4.13). *queue.Producer satisfies this.
type MemoriseProducer interface {
	Publish(ctx context.Context, job queue.Job) error
}

// Loop wires every dependency the step procedure needs.
type Loop struct {
	Store     *store.Store
	LLM       *llmclient.Client
	Tools     tools.Registry
	Cache     *cache.Cache
	Assembler *agents.Assembler
	Cfg       config.StepLoopConfig
	// Queue dispatches the memorising fork onto Kafka when configured
	// (§4.13); nil falls back to the in-process path below.
	Queue MemoriseProducer
}

// Run executes the Step Loop procedure (§4.7) and returns the user-visible
// reply. A confirmation suspension emits EventConfirmationRequest and then
// returns Result{} with an errs.Cancelled-kind error; a real cancellation
// returns the same error kind with Result.Cancelled set.
func (l *Loop) Run(ctx context.Context, in Input, sink Sink) (Result, error) {
	if l.Cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Cfg.RunTimeout)
		defer cancel()
	}

	if err := sink.Emit(ctx, Event{Type: EventStart, At: time.Now().UTC()}); err != nil {
		return Result{}, err
	}

	for _, m := range in.Messages {
		if _, err := l.Store.AppendMessage(ctx, store.Message{
			AgentID: in.AgentID, UserID: in.UserID, Role: store.RoleUser,
			Content: m.Content, ImageRefs: m.ImageRefs,
		}); err != nil {
			return Result{}, err
		}
	}

	agent, err := l.Store.GetAgent(ctx, in.AgentID)
	if err != nil {
		return Result{}, err
	}

	latestUser := ""
	if n := len(in.Messages); n > 0 {
		latestUser = in.Messages[n-1].Content
	}
	systemPrompt, err := l.Assembler.Assemble(ctx, in.UserID, agent.SystemPrompt, latestUser)
	if err != nil {
		return Result{}, err
	}

	maxSteps := l.Cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 20
	}

	for step := 0; step < maxSteps; step++ {
		if ctx.Err() != nil {
			return l.cancel(ctx, sink)
		}

		sctx, span := tracer.Start(ctx, "step.iterate")
		history, herr := l.Store.RecentMessages(sctx, in.AgentID, 50)
		if herr != nil {
			span.End()
			return Result{}, herr
		}
		msgs := toLLMMessages(systemPrompt, history)

		stepCtx := sctx
		if l.Cfg.StepTimeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(sctx, l.Cfg.StepTimeout)
			defer cancel()
		}

		resp, cerr := l.LLM.Complete(stepCtx, llmclient.Request{
			Provider: agent.LLMProvider,
			Model:    agent.LLMModel,
			Messages: msgs,
			Tools:    l.Tools.Schemas(),
			UserID:   in.UserID,
			AgentID:  in.AgentID,
		})
		span.End()
		if cerr != nil {
			if errs.Is(cerr, errs.Cancelled) || ctx.Err() != nil {
				return l.cancel(ctx, sink)
			}
			_ = sink.Emit(ctx, Event{Type: EventError, Err: cerr, At: time.Now().UTC()})
			return Result{}, cerr
		}

		if resp.Message.Content != "" {
			if err := sink.Emit(ctx, Event{Type: EventIntermediate, Intermediate: IntermediateResponse, Content: resp.Message.Content, At: time.Now().UTC()}); err != nil {
				return Result{}, err
			}
		}

		if len(resp.Message.ToolCalls) == 0 {
			if _, err := l.Store.AppendMessage(ctx, store.Message{
				AgentID: in.AgentID, UserID: in.UserID, Role: store.RoleAssistant, Content: resp.Message.Content,
			}); err != nil {
				return Result{}, err
			}
			return l.finish(ctx, in, resp.Message.Content, sink)
		}

		if _, err := l.Store.AppendMessage(ctx, store.Message{
			AgentID: in.AgentID, UserID: in.UserID, Role: store.RoleAssistant, Content: resp.Message.Content,
		}); err != nil {
			return Result{}, err
		}

		for _, tc := range resp.Message.ToolCalls {
			if ctx.Err() != nil {
				return l.cancel(ctx, sink)
			}

			switch tc.Name {
			case tools.SendMessageToolName:
				reply := extractMessage(tc.Args)
				return l.finish(ctx, in, reply, sink)

			case tools.RequestConfirmationToolName:
				return l.suspend(ctx, in, tc, sink)

			default:
				dctx := tools.WithAgentID(ctx, in.AgentID)
				payload, derr := l.Tools.Dispatch(dctx, tc.Name, tc.Args)
				if derr != nil {
					payload, _ = json.Marshal(map[string]any{"ok": false, "error": derr.Error()})
				}
				if _, err := l.Store.AppendMessage(ctx, store.Message{
					AgentID: in.AgentID, UserID: in.UserID, Role: store.RoleTool,
					Content: string(payload), ToolCallID: tc.ID, ToolName: tc.Name,
				}); err != nil {
					return Result{}, err
				}
				if err := sink.Emit(ctx, Event{Type: EventTool, ToolName: tc.Name, ToolCallID: tc.ID, ToolResult: string(payload), At: time.Now().UTC()}); err != nil {
					return Result{}, err
				}
			}
		}
	}

	return l.finish(ctx, in, "step limit reached without a final reply", sink)
}

// finish emits the terminal final event, then — if memorizing was
// requested — forks the non-streaming meta-agent memorising path. Fork
// failures are logged, never returned (§4.7).
func (l *Loop) finish(ctx context.Context, in Input, reply string, sink Sink) (Result, error) {
	if err := sink.Emit(ctx, Event{Type: EventFinal, Content: reply, At: time.Now().UTC()}); err != nil {
		return Result{}, err
	}
	if in.Memorizing {
		l.dispatchMemorise(ctx, in)
	}
	return Result{Reply: reply}, nil
}

// dispatchMemorise sends in onto the Background Memorising Queue when one
// is configured, falling back to the in-process path on a publish failure
// or when no Queue is wired at all (§4.13).
func (l *Loop) dispatchMemorise(ctx context.Context, in Input) {
	if l.Queue == nil {
		l.memorise(ctx, in)
		return
	}
	if err := l.Queue.Publish(ctx, toJob(in)); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("agent_id", in.AgentID).
			Msg("memorise queue publish failed, running in-process")
		l.memorise(ctx, in)
	}
}

// RunMemorise runs a Job pulled off the Background Memorising Queue
// (§4.13); a queue.Consumer's Handler calls this directly.
func (l *Loop) RunMemorise(ctx context.Context, job queue.Job) {
	l.memorise(ctx, fromJob(job))
}

func toJob(in Input) queue.Job {
	msgs := make([]queue.JobMessage, len(in.Messages))
	for i, m := range in.Messages {
		msgs[i] = queue.JobMessage{Content: m.Content, ImageRefs: m.ImageRefs}
	}
	return queue.Job{AgentID: in.AgentID, UserID: in.UserID, Messages: msgs, ScreenMonitoring: in.ScreenMonitoring}
}

func fromJob(job queue.Job) Input {
	msgs := make([]IncomingMessage, len(job.Messages))
	for i, m := range job.Messages {
		msgs[i] = IncomingMessage{Content: m.Content, ImageRefs: m.ImageRefs}
	}
	return Input{AgentID: job.AgentID, UserID: job.UserID, Messages: msgs, ScreenMonitoring: job.ScreenMonitoring}
}

// cancel persists nothing further (the partial assistant message, if any,
// was already persisted by the caller that detected ctx.Err()) and emits a
// terminal cancellation event via the final envelope type (§4.7/§4.8).
func (l *Loop) cancel(ctx context.Context, sink Sink) (Result, error) {
	_ = sink.Emit(context.Background(), Event{Type: EventFinal, Cancelled: true, At: time.Now().UTC()})
	return Result{Cancelled: true}, errs.New(errs.Cancelled, "step loop cancelled", ctx.Err())
}

// confirmationTicketTTL is the confirmation ticket lifetime (§5's timeout
// table): a suspended step loop abandons the ticket if the human doesn't
// respond within this window.
const confirmationTicketTTL = 5 * time.Minute

// suspend creates a confirmation ticket, emits confirmation_request, and
// returns without terminating the conversation — resumption happens out of
// band via /confirmation/respond injecting a synthetic tool-return and
// re-invoking Run (§4.7).
func (l *Loop) suspend(ctx context.Context, in Input, tc llm.ToolCall, sink Sink) (Result, error) {
	prompt := extractPrompt(tc.Args)
	ticket := store.ConfirmationTicket{
		ID:         store.NewItemID(),
		AgentID:    in.AgentID,
		ToolCallID: tc.ID,
		Prompt:     prompt,
		ExpiresAt:  time.Now().UTC().Add(confirmationTicketTTL),
	}
	if err := l.Cache.PutConfirmationTicket(ctx, ticket, confirmationTicketTTL); err != nil {
		return Result{}, err
	}
	if err := sink.Emit(ctx, Event{Type: EventConfirmationRequest, ConfirmationID: ticket.ID, ConfirmationText: prompt, ToolCallID: tc.ID, At: time.Now().UTC()}); err != nil {
		return Result{}, err
	}
	return Result{}, errs.New(errs.Cancelled, "step loop suspended pending confirmation", nil)
}

// memorise forks a non-streaming step against the meta-agent to classify
// and emit mutator tool calls for new information (§4.7's memorising path).
func (l *Loop) memorise(ctx context.Context, in Input) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("agent_id", in.AgentID).Msg("memorising fork panicked")
		}
	}()

	metaAgent, err := l.Store.GetAgentByType(ctx, in.UserID, store.AgentMeta)
	if err != nil {
		log.Warn().Err(err).Str("user_id", in.UserID).Msg("memorising fork: no meta agent configured")
		return
	}

	var transcript string
	for _, m := range in.Messages {
		transcript += m.Content + "\n"
	}

	resp, err := l.LLM.Complete(ctx, llmclient.Request{
		Provider: metaAgent.LLMProvider,
		Model:    metaAgent.LLMModel,
		Messages: []llm.Message{
			{Role: "system", Content: metaAgent.SystemPrompt},
			{Role: "user", Content: fmt.Sprintf("user_id=%s\n%s", in.UserID, transcript)},
		},
		Tools:   l.Tools.Schemas(),
		UserID:  in.UserID,
		AgentID: metaAgent.ID,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", in.UserID).Msg("memorising fork: meta-agent call failed")
		return
	}
	for _, tc := range resp.Message.ToolCalls {
		dctx := tools.WithAgentID(ctx, metaAgent.ID)
		if _, err := l.Tools.Dispatch(dctx, tc.Name, tc.Args); err != nil {
			log.Warn().Err(err).Str("tool", tc.Name).Msg("memorising fork: mutator dispatch failed")
		}
	}
}

func toLLMMessages(systemPrompt string, history []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content, ToolID: m.ToolCallID})
	}
	return out
}

func extractMessage(raw json.RawMessage) string {
	var a struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &a)
	return a.Message
}

func extractPrompt(raw json.RawMessage) string {
	var a struct {
		Prompt string `json:"prompt"`
	}
	_ = json.Unmarshal(raw, &a)
	return a.Prompt
}
