package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"memoria/internal/memory"
)

// memoryTool adapts one Memory Manager operation into the Tool interface
// (§4.4's "Memory mutators ... each delegating to the matching Memory
// Manager").
type memoryTool struct {
	name        string
	description string
	schema      map[string]any
	call        func(ctx context.Context, raw json.RawMessage) (any, error)
}

func (t *memoryTool) Name() string { return t.name }

func (t *memoryTool) JSONSchema() map[string]any {
	return map[string]any{"description": t.description, "parameters": t.schema}
}

func (t *memoryTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return t.call(ctx, raw)
}

// coreBlockArgs, classMutatorArgs etc. are the narrow argument shapes each
// mutator accepts; unknown extra keys are ignored rather than rejected, so
// an LLM's over-eager tool call doesn't fail on harmless noise.
type coreBlockArgs struct {
	UserID string `json:"user_id"`
	Block  string `json:"block"`
	Text   string `json:"text"`
}

// NewCoreMemoryTools returns the core_memory_append and core_memory_replace
// mutators (§4.4).
func NewCoreMemoryTools(mgr *memory.CoreManager) []Tool {
	return []Tool{
		&memoryTool{
			name:        "core_memory_append",
			description: "Append text to a Core Memory block (human or persona).",
			schema: map[string]any{
				"type":     "object",
				"required": []string{"user_id", "block", "text"},
				"properties": map[string]any{
					"user_id": map[string]any{"type": "string"},
					"block":   map[string]any{"type": "string", "enum": []string{"human", "persona"}},
					"text":    map[string]any{"type": "string"},
				},
			},
			call: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var a coreBlockArgs
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, err
				}
				item, err := mgr.Append(ctx, a.UserID, a.Block, a.Text)
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true, "block": a.Block, "value": item.Fields[a.Block]}, nil
			},
		},
		&memoryTool{
			name:        "core_memory_replace",
			description: "Overwrite a Core Memory block (human or persona) wholesale.",
			schema: map[string]any{
				"type":     "object",
				"required": []string{"user_id", "block", "text"},
				"properties": map[string]any{
					"user_id": map[string]any{"type": "string"},
					"block":   map[string]any{"type": "string", "enum": []string{"human", "persona"}},
					"text":    map[string]any{"type": "string"},
				},
			},
			call: func(ctx context.Context, raw json.RawMessage) (any, error) {
				var a coreBlockArgs
				if err := json.Unmarshal(raw, &a); err != nil {
					return nil, err
				}
				item, err := mgr.Replace(ctx, a.UserID, a.Block, a.Text)
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true, "block": a.Block, "value": item.Fields[a.Block]}, nil
			},
		},
	}
}

// classMutatorArgs is the common shape of every non-Core mutator: a
// user_id plus the class's own fields, passed through to Create verbatim.
type classMutatorArgs struct {
	UserID string         `json:"user_id"`
	Fields map[string]any `json:"fields"`
}

// NewClassMutatorTool builds one mutator tool (episodic_insert,
// ...) delegating straight to mgr.Create. Semantic's merge-on-conflict path
// is the separate NewSemanticMutatorTool.
func NewClassMutatorTool(name, description string, mgr memory.Manager) Tool {
	return &memoryTool{
		name:        name,
		description: description,
		schema: map[string]any{
			"type":     "object",
			"required": []string{"user_id", "fields"},
			"properties": map[string]any{
				"user_id": map[string]any{"type": "string"},
				"fields":  map[string]any{"type": "object"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a classMutatorArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			item, err := mgr.Create(ctx, a.UserID, a.Fields)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "id": item.ID, "class": string(mgr.Class())}, nil
		},
	}
}

// NewSemanticMutatorTool is semantic_upsert: unlike the other classes,
// Semantic merges relations into any existing (user_id, concept) row
// instead of always inserting (§4.5's resolved Open Question).
func NewSemanticMutatorTool(mgr *memory.SemanticManager) Tool {
	return &memoryTool{
		name:        "semantic_upsert",
		description: "Create or merge a Semantic memory entry, keyed by concept.",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"user_id", "fields"},
			"properties": map[string]any{
				"user_id": map[string]any{"type": "string"},
				"fields":  map[string]any{"type": "object"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a classMutatorArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			item, err := mgr.Upsert(ctx, a.UserID, a.Fields)
			if err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "id": item.ID, "class": "semantic"}, nil
		},
	}
}

// archivalSearchArgs is archival_search's argument shape: a free-text query
// against one or more memory classes (§4.4/§4.5).
type archivalSearchArgs struct {
	UserID    string   `json:"user_id"`
	Query     string   `json:"query"`
	Classes   []string `json:"classes"`
	Method    string   `json:"search_method"`
	Limit     int      `json:"limit"`
	Threshold float64  `json:"similarity_threshold"`
}

// NewArchivalSearchTool is the chat agent's read path into every memory
// class: archival_search (§4.4).
func NewArchivalSearchTool(managers map[memory.Class]memory.Manager) Tool {
	return &memoryTool{
		name:        "archival_search",
		description: "Search one or more memory classes for relevant snippets.",
		schema: map[string]any{
			"type":     "object",
			"required": []string{"user_id", "query"},
			"properties": map[string]any{
				"user_id":              map[string]any{"type": "string"},
				"query":                map[string]any{"type": "string"},
				"classes":              map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"search_method":        map[string]any{"type": "string", "enum": []string{"embedding", "bm25", "hybrid"}},
				"limit":                map[string]any{"type": "integer"},
				"similarity_threshold": map[string]any{"type": "number"},
			},
		},
		call: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a archivalSearchArgs
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, err
			}
			if a.Limit <= 0 {
				a.Limit = 10
			}
			if a.Threshold <= 0 {
				a.Threshold = 0.7
			}
			classes := a.Classes
			if len(classes) == 0 {
				for c := range managers {
					classes = append(classes, string(c))
				}
			}
			opts := memory.SearchOptions{Method: memory.SearchMethod(a.Method), Limit: a.Limit, Threshold: a.Threshold}
			results := map[string]any{}
			for _, c := range classes {
				mgr, ok := managers[memory.Class(c)]
				if !ok {
					continue
				}
				hits, err := mgr.Search(ctx, a.UserID, a.Query, opts)
				if err != nil {
					return nil, fmt.Errorf("search %s: %w", c, err)
				}
				projected := make([]map[string]any, 0, len(hits))
				for _, h := range hits {
					projected = append(projected, map[string]any{"id": h.ID, "score": h.Score, "body": h.Body})
				}
				results[c] = projected
			}
			return map[string]any{"ok": true, "results": results}, nil
		},
	}
}
