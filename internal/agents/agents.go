// Package agents implements the Agents component (§3/§4.6): agent
// definitions as {system_prompt_template, tool_allowlist, llm_config_ref}
// triples, and the chat agent's system-prompt assembly algorithm.
package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"memoria/internal/errs"
	"memoria/internal/memory"
	"memoria/internal/store"
	"memoria/internal/util"
)

// Definition is one agent type's static configuration (§4.6): a prompt
// template, the tools it may call, and which LLM config it defers to absent
// a per-agent override.
type Definition struct {
	Type                 store.AgentType
	SystemPromptTemplate string
	ToolAllowlist        []string
	LLMConfigRef         string // "" defers to config.LLMConfig.DefaultProvider
}

// Default chat-agent allowlist: retrieval across every class and
// send_message (§4.6), plus the two Core Memory mutators and
// request_confirmation.
var chatTools = []string{
	"core_memory_append", "core_memory_replace", "archival_search",
	"send_message", "request_confirmation",
}

// perClassMutator maps each specialized memory agent to the mutator tool it
// owns (§4.6: "specialized-memory agents additionally own the mutators of
// their own class").
var perClassMutator = map[store.AgentType]string{
	store.AgentCoreMemory:       "core_memory_append",
	store.AgentEpisodicMemory:   "episodic_insert",
	store.AgentSemanticMemory:   "semantic_upsert",
	store.AgentProceduralMemory: "procedural_upsert",
	store.AgentResourceMemory:   "resource_insert",
	store.AgentKnowledgeVault:   "knowledge_vault_insert",
}

// Definitions returns the standard set of agent definitions this engine
// ships (§3's fixed type enumeration). Callers persist one Agent row per
// (user, type) from these on first use.
func Definitions() map[store.AgentType]Definition {
	defs := map[store.AgentType]Definition{
		store.AgentChat: {
			Type: store.AgentChat,
			SystemPromptTemplate: "You are a personal-assistant agent with long-term memory. Use the " +
				"Core Memory and retrieved snippets provided in context as ground truth about the " +
				"user; call send_message to reply once you have everything you need.",
			ToolAllowlist: chatTools,
		},
		store.AgentMeta: {
			Type: store.AgentMeta,
			SystemPromptTemplate: "You classify raw text into one or more of the memory classes " +
				"{core, episodic, semantic, procedural, resource, knowledge_vault} and emit the " +
				"matching mutator tool call(s) for each piece of information found. You also " +
				"perform `summarise` on request, compressing the oldest messages of a " +
				"conversation into a single system-role note.",
			ToolAllowlist: []string{
				"core_memory_append", "episodic_insert", "semantic_upsert",
				"procedural_upsert", "resource_insert", "knowledge_vault_insert", "summarise",
			},
		},
		store.AgentReflexion: {
			Type: store.AgentReflexion,
			SystemPromptTemplate: "You review a completed step loop's transcript and note " +
				"corrections for next time; you do not reply to the user.",
		},
		store.AgentBackground: {
			Type:                 store.AgentBackground,
			SystemPromptTemplate: "You run scheduled maintenance tasks (e.g. Episodic importance decay).",
		},
	}
	for t, tool := range perClassMutator {
		defs[t] = Definition{
			Type:                 t,
			SystemPromptTemplate: fmt.Sprintf("You maintain the %s memory class: validate and apply %s calls.", t, tool),
			ToolAllowlist:        []string{tool, "archival_search"},
		}
	}
	return defs
}

// retrievalClasses are the non-Core classes the chat agent assembler runs
// hybrid search over (§4.6 step 2).
var retrievalClasses = []memory.Class{
	memory.ClassEpisodic, memory.ClassSemantic, memory.ClassProcedural,
	memory.ClassResource, memory.ClassKnowledgeVault,
}

// perClassSearchLimit and threshold are the §4.6 step-2 constants.
const (
	perClassSearchLimit = 8
	searchThreshold      = 0.7
)

// Assembler builds the chat agent's system prompt (§4.6).
type Assembler struct {
	Managers      map[memory.Class]memory.Manager
	CoreManager   *memory.CoreManager
	ContextWindow int // tokens; 0 disables truncation
	ReplyReserve  int // tokens reserved for the model's reply
}

// snippet is one retrieved memory result carrying enough to sort/drop by
// rank when truncating for context-window fit.
type snippet struct {
	class memory.Class
	score float64
	text  string
}

// Assemble implements §4.6's three steps: Core Memory verbatim, hybrid
// search across the other five classes (limit 8 each, threshold 0.7), then
// truncate lowest-ranked snippets first until the prompt plus reserve fits
// the context window. systemPrompt is the agent's own persisted
// SystemPrompt/persona text, prepended verbatim ahead of the assembled
// sections.
func (a *Assembler) Assemble(ctx context.Context, userID, systemPrompt, userMessage string) (string, error) {
	var coreBlock string
	if a.CoreManager != nil {
		items, err := a.CoreManager.List(ctx, userID, nil, 1, 0)
		if err != nil {
			return "", err
		}
		if len(items) > 0 {
			human, _ := items[0].Fields["human"].(string)
			persona, _ := items[0].Fields["persona"].(string)
			coreBlock = fmt.Sprintf("## Human\n%s\n\n## Persona\n%s", human, persona)
		}
	}

	var snippets []snippet
	for _, class := range retrievalClasses {
		mgr, ok := a.Managers[class]
		if !ok {
			continue
		}
		results, err := mgr.Search(ctx, userID, userMessage, memory.SearchOptions{
			Method: memory.MethodHybrid, Limit: perClassSearchLimit, Threshold: searchThreshold,
		})
		if err != nil {
			continue // a single class's retrieval failure shouldn't block the whole prompt
		}
		for _, r := range results {
			snippets = append(snippets, snippet{class: r.Class, score: r.Score, text: r.Body})
		}
	}
	sort.Slice(snippets, func(i, j int) bool { return snippets[i].score > snippets[j].score })

	body := systemPrompt + "\n\n" + coreBlock
	budget := a.ContextWindow - a.ReplyReserve
	used := util.CountTokens(body)
	var kept []string
	for _, s := range snippets {
		line := fmt.Sprintf("[%s] %s", s.class, s.text)
		if a.ContextWindow > 0 && used+util.CountTokens(line) > budget {
			break // lower-ranked snippets are dropped first since snippets is sorted descending
		}
		kept = append(kept, line)
		used += util.CountTokens(line)
	}
	if len(kept) > 0 {
		body += "\n\n## Retrieved context\n" + strings.Join(kept, "\n")
	}

	return body, nil
}

// standardTypes is the set of agent types §3 requires one-per-user of: the
// chat agent and one agent per memory class. Meta/reflexion/background are
// created lazily by whichever caller first needs them (they are not part of
// every user's standard roster).
var standardTypes = []store.AgentType{
	store.AgentChat, store.AgentCoreMemory, store.AgentEpisodicMemory,
	store.AgentSemanticMemory, store.AgentProceduralMemory,
	store.AgentResourceMemory, store.AgentKnowledgeVault,
}

// EnsureForUser guarantees a user has one chat agent and one of each
// specialized memory-class agent (§3/§4.6), creating any missing ones from
// Definitions' defaults. Existing agents are left untouched.
func EnsureForUser(ctx context.Context, st *store.Store, userID string) (map[store.AgentType]store.Agent, error) {
	defs := Definitions()
	out := make(map[store.AgentType]store.Agent, len(standardTypes))
	for _, t := range standardTypes {
		existing, err := st.GetAgentByType(ctx, userID, t)
		if err == nil {
			out[t] = existing
			continue
		}
		if !errs.Is(err, errs.NotFound) {
			return nil, err
		}
		def := defs[t]
		created, err := st.CreateAgent(ctx, store.Agent{
			UserID:       userID,
			Name:         string(t),
			Type:         t,
			SystemPrompt: def.SystemPromptTemplate,
			MemoryConfig: map[string]any{"tool_allowlist": def.ToolAllowlist},
			IsActive:     true,
		})
		if err != nil {
			return nil, err
		}
		out[t] = created
	}
	return out, nil
}
