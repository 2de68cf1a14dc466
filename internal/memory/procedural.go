package memory

import (
	"context"
	"fmt"
	"strings"

	"memoria/internal/errs"
	"memoria/internal/rag/embedder"
	"memoria/internal/store"
)

// ProceduralManager implements the Procedural memory class (§3/§4.5):
// indexed and lexical field `summary`, return body `summary`+`steps`.
type ProceduralManager struct{ base }

// NewProceduralManager constructs the Procedural Memory Manager.
func NewProceduralManager(st *store.Store, emb embedder.Embedder, storageDim int) *ProceduralManager {
	return &ProceduralManager{base{class: ClassProcedural, store: st, embedder: emb, storageDim: storageDim, embedField: "summary", lexicalField: "summary"}}
}

// Create validates required fields and writes the item. `steps` is a
// required ordered list of string instructions.
func (m *ProceduralManager) Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	summary, _ := fields["summary"].(string)
	if summary == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "procedural memory requires summary", nil)
	}
	steps, _ := fields["steps"].([]any)
	if len(steps) == 0 {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "procedural memory requires at least one step", nil)
	}
	return m.createItem(ctx, userID, fields, summary, summary)
}

func (m *ProceduralManager) Update(ctx context.Context, id string, patch map[string]any) error {
	summary, _ := patch["summary"].(string)
	return m.updateItem(ctx, id, patch, summary, summary)
}

func (m *ProceduralManager) SoftDelete(ctx context.Context, id string) error { return m.softDelete(ctx, id) }

func (m *ProceduralManager) List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return m.list(ctx, userID, filters, limit, offset)
}

func (m *ProceduralManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	return hybridSearch(ctx, &m.base, userID, query, opts, proceduralBody)
}

func proceduralBody(item store.MemoryItem) string {
	summary, _ := item.Fields["summary"].(string)
	steps, _ := item.Fields["steps"].([]any)
	strs := make([]string, 0, len(steps))
	for i, s := range steps {
		strs = append(strs, fmt.Sprintf("%d. %v", i+1, s))
	}
	if len(strs) == 0 {
		return summary
	}
	return summary + "\n" + strings.Join(strs, "\n")
}
