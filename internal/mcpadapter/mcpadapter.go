// Package mcpadapter implements the MCP Adapter (§4.9): a second front-end
// that re-exports four memory operations as MCP tools over SSE
// (`github.com/modelcontextprotocol/go-sdk`, protocol version 2024-11-05,
// schemas generated by `google/jsonschema-go` from the argument structs
// below). Rather than looping back through the HTTP surface as spec.md's
// prose literally describes ("calls against the core HTTP surface"), the
// adapter calls the same in-process Memory Managers, Core Manager and Step
// Loop the HTTP surface itself calls — identical semantics without a
// pointless network hop back into the same process (recorded as a resolved
// design note in DESIGN.md).
package mcpadapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"memoria/internal/errs"
	"memoria/internal/memory"
	"memoria/internal/steploop"
	"memoria/internal/store"
)

// chatTimeout and chatMessageCap are the MCP-surface-specific limits §4.9/§5
// name for memory_chat (distinct from the Streaming Dispatcher's own chat
// limits, which have no such cap).
const (
	chatTimeout          = 15 * time.Second
	chatMessageCap       = 200
	resourceTruncateLen  = 1000
	defaultTruncateLen   = 200
	defaultSearchLimit   = 10
	defaultSearchThresh  = 0.7
	profileClassSnippets = 3
)

// IdentityResolver maps one MCP connection to the memoria user it acts as.
// The adapter never accepts a per-call user_id (§4.9/§8's "MCP user
// routing" failure mode): routing is entirely by connection identity, set
// once when the SSE session is established.
type IdentityResolver func(ctx context.Context) (userID string, ok bool)

// Adapter wires the MCP tool/resource set to the memory subsystem.
type Adapter struct {
	Managers    map[memory.Class]memory.Manager
	Core        *memory.CoreManager
	Loop        *steploop.Loop
	Store       *store.Store
	Resolve     IdentityResolver
	DefaultUser string
}

// NewServer builds the mcp.Server with every tool and resource registered.
func (a *Adapter) NewServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "memoria", Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_add",
		Description: "Store a new memory item via the memorising agent pipeline.",
	}, a.memoryAdd)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_search",
		Description: "Hybrid search across the memory classes (similarity threshold 0.7 by default).",
	}, a.memorySearch)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_chat",
		Description: "Send a short chat message through the non-memorising chat path.",
	}, a.memoryChat)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_get_profile",
		Description: "Return a stitched view of Core Memory plus a summary of the other memory classes.",
	}, a.memoryGetProfile)

	server.AddResource(&mcp.Resource{
		URI:      "mirix://status",
		Name:     "status",
		MIMEType: "application/json",
	}, a.statusResource)

	server.AddResource(&mcp.Resource{
		URI:      "mirix://memory/stats",
		Name:     "memory-stats",
		MIMEType: "application/json",
	}, a.statsResource)

	return server
}

// Handler returns the net/http handler serving the MCP SSE endpoint
// (spec.md §6's `/sse`). getServer is re-evaluated per connection so a
// future multi-tenant server pool (one *mcp.Server per identity) is a
// drop-in change; today every connection shares one server instance.
func (a *Adapter) Handler() http.Handler {
	server := a.NewServer()
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return server })
}

func (a *Adapter) userFor(ctx context.Context) (string, error) {
	if a.Resolve != nil {
		if uid, ok := a.Resolve(ctx); ok {
			return uid, nil
		}
	}
	if a.DefaultUser == "" {
		return "", errs.New(errs.InvalidInput, "mcp connection has no resolvable identity and no default user configured", nil)
	}
	log.Warn().Msg("mcp connection identity unresolved, downgrading to default user")
	return a.DefaultUser, nil
}

// --- memory_add ---

type memoryAddArgs struct {
	Content    string `json:"content" jsonschema:"required,description=The information to remember"`
	MemoryType string `json:"memory_type" jsonschema:"required,description=One of core|episodic|semantic|procedural|resource|knowledge_vault"`
	Context    string `json:"context,omitempty" jsonschema:"description=Optional surrounding context for the memory"`
}

func (a *Adapter) memoryAdd(ctx context.Context, _ *mcp.CallToolRequest, args memoryAddArgs) (*mcp.CallToolResult, any, error) {
	userID, err := a.userFor(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}

	chatAgent, err := a.Store.GetAgentByType(ctx, userID, store.AgentChat)
	if err != nil {
		return errResult(err), nil, nil
	}

	instruction := fmt.Sprintf("Remember the following as %s memory: %s", args.MemoryType, args.Content)
	if args.Context != "" {
		instruction += "\nContext: " + args.Context
	}

	in := steploop.Input{
		AgentID:    chatAgent.ID,
		UserID:     userID,
		Messages:   []steploop.IncomingMessage{{Content: instruction}},
		Memorizing: true,
	}
	res, err := a.Loop.Run(ctx, in, noopSink{})
	if err != nil && !errs.Is(err, errs.Cancelled) {
		return errResult(err), nil, nil
	}
	return textResult(fmt.Sprintf("stored: %s", res.Reply)), nil, nil
}

// --- memory_search ---

type memorySearchArgs struct {
	Query   string   `json:"query" jsonschema:"required,description=Search text"`
	Classes []string `json:"classes,omitempty" jsonschema:"description=Memory classes to search; defaults to all"`
}

func (a *Adapter) memorySearch(ctx context.Context, _ *mcp.CallToolRequest, args memorySearchArgs) (*mcp.CallToolResult, any, error) {
	userID, err := a.userFor(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return errResult(errs.New(errs.InvalidInput, "query is required", nil)), nil, nil
	}

	classes := args.Classes
	if len(classes) == 0 {
		for c := range a.Managers {
			classes = append(classes, string(c))
		}
	}

	var lines []string
	for _, c := range classes {
		mgr, ok := a.Managers[memory.Class(c)]
		if !ok {
			continue
		}
		results, err := mgr.Search(ctx, userID, args.Query, memory.SearchOptions{
			Method: memory.MethodHybrid, Limit: defaultSearchLimit, Threshold: defaultSearchThresh,
		})
		if err != nil {
			log.Warn().Err(err).Str("class", c).Msg("mcp memory_search: class search failed")
			continue
		}
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("[%s %.2f] %s", c, r.Score, truncate(r.Body, truncateLenFor(c))))
		}
	}
	if len(lines) == 0 {
		return textResult("no results"), nil, nil
	}
	return textResult(strings.Join(lines, "\n")), nil, nil
}

func truncateLenFor(class string) int {
	if class == string(memory.ClassResource) {
		return resourceTruncateLen
	}
	return defaultTruncateLen
}

// --- memory_chat ---

type memoryChatArgs struct {
	Message string `json:"message" jsonschema:"required,description=Chat message, max 200 characters"`
}

func (a *Adapter) memoryChat(ctx context.Context, _ *mcp.CallToolRequest, args memoryChatArgs) (*mcp.CallToolResult, any, error) {
	userID, err := a.userFor(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}
	if len(args.Message) > chatMessageCap {
		return errResult(errs.New(errs.InvalidInput, fmt.Sprintf("message exceeds %d characters", chatMessageCap), nil)), nil, nil
	}

	chatAgent, err := a.Store.GetAgentByType(ctx, userID, store.AgentChat)
	if err != nil {
		return errResult(err), nil, nil
	}

	cctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	in := steploop.Input{
		AgentID:  chatAgent.ID,
		UserID:   userID,
		Messages: []steploop.IncomingMessage{{Content: args.Message}},
	}
	res, err := a.Loop.Run(cctx, in, noopSink{})
	if err != nil {
		if cctx.Err() != nil {
			return textResult("the assistant is taking longer than expected to respond; please try again"), nil, nil
		}
		return errResult(err), nil, nil
	}
	return textResult(res.Reply), nil, nil
}

// --- memory_get_profile ---

func (a *Adapter) memoryGetProfile(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	userID, err := a.userFor(ctx)
	if err != nil {
		return errResult(err), nil, nil
	}

	var sb strings.Builder
	core, err := a.Core.List(ctx, userID, store.ListFilter{}, 1, 0)
	if err != nil {
		return errResult(err), nil, nil
	}
	if len(core) > 0 {
		human, _ := core[0].Fields["human"].(string)
		persona, _ := core[0].Fields["persona"].(string)
		fmt.Fprintf(&sb, "human: %s\npersona: %s\n", truncate(human, defaultTruncateLen), truncate(persona, defaultTruncateLen))
	}

	for class, mgr := range a.Managers {
		items, err := mgr.List(ctx, userID, store.ListFilter{}, profileClassSnippets, 0)
		if err != nil {
			log.Warn().Err(err).Str("class", string(class)).Msg("mcp memory_get_profile: class list failed")
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%d shown):\n", class, len(items))
		for _, it := range items {
			fmt.Fprintf(&sb, "- %s\n", truncate(primaryField(class, it), defaultTruncateLen))
		}
	}
	return textResult(sb.String()), nil, nil
}

func primaryField(class memory.Class, it store.MemoryItem) string {
	key := "summary"
	switch class {
	case memory.ClassEpisodic, memory.ClassSemantic:
		key = "details"
	case memory.ClassKnowledgeVault:
		key = "caption"
	}
	if v, ok := it.Fields[key].(string); ok {
		return v
	}
	return ""
}

// --- resources ---

func (a *Adapter) statusResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource("mirix://status", fmt.Sprintf(`{"status":"ok","time":"%s"}`, time.Now().UTC().Format(time.RFC3339))), nil
}

func (a *Adapter) statsResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource("mirix://memory/stats", fmt.Sprintf(`{"classes":%d}`, len(a.Managers))), nil
}

func jsonResource(uri, body string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: body}},
	}
}

// --- helpers ---

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}

func errResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// noopSink discards Step Loop events for the synchronous MCP call path,
// which only cares about the final Result, not the intermediate stream.
type noopSink struct{}

func (noopSink) Emit(context.Context, steploop.Event) error { return nil }
