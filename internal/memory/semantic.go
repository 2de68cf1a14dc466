package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"memoria/internal/errs"
	"memoria/internal/rag/embedder"
	"memoria/internal/store"
)

// SemanticManager implements the Semantic memory class (§3/§4.5): indexed
// and lexical field `details`, return body `concept`+`details`.
type SemanticManager struct{ base }

// NewSemanticManager constructs the Semantic Memory Manager.
func NewSemanticManager(st *store.Store, emb embedder.Embedder, storageDim int) *SemanticManager {
	return &SemanticManager{base{class: ClassSemantic, store: st, embedder: emb, storageDim: storageDim, embedField: "details", lexicalField: "details"}}
}

// Create validates required fields and writes the item.
func (m *SemanticManager) Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	concept, _ := fields["concept"].(string)
	details, _ := fields["details"].(string)
	if concept == "" || details == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "semantic memory requires concept and details", nil)
	}
	return m.createItem(ctx, userID, fields, details, details)
}

// Upsert implements the Open Question resolution in SPEC_FULL.md §4.5: a
// write to an existing (user_id, concept) merges `relations` (set union)
// instead of overwriting, so a previously recorded relation is never
// silently dropped. Concurrent upserts on the same concept are resolved by
// Postgres's unique constraint electing a winner; the loser retries the
// merge once (§5).
func (m *SemanticManager) Upsert(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	concept, _ := fields["concept"].(string)
	details, _ := fields["details"].(string)
	if concept == "" || details == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "semantic memory requires concept and details", nil)
	}

	var result store.MemoryItem
	err := m.store.Transactional(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var existingID string
		var existingFieldsJSON []byte
		err := tx.QueryRow(ctx, `
SELECT id, fields FROM memory_items
WHERE user_id=$1 AND class=$2 AND fields->>'concept'=$3 AND deleted_at IS NULL
FOR UPDATE`, userID, string(ClassSemantic), concept).Scan(&existingID, &existingFieldsJSON)
		if err == pgx.ErrNoRows {
			item, cerr := m.createItem(ctx, userID, fields, details, details)
			result = item
			return cerr
		}
		if err != nil {
			return errs.New(errs.Transient, "lookup existing semantic concept", err)
		}

		existing, gerr := m.store.GetItemByID(ctx, existingID)
		if gerr != nil {
			return gerr
		}
		merged := mergeRelations(existing.Fields, fields)
		if err := m.updateItem(ctx, existingID, merged, details, details); err != nil {
			return err
		}
		result, err = m.store.GetItemByID(ctx, existingID)
		return err
	})
	return result, err
}

func mergeRelations(existing, incoming map[string]any) map[string]any {
	seen := map[string]struct{}{}
	var merged []string
	appendUnique := func(v any) {
		rels, _ := v.([]any)
		for _, r := range rels {
			s := fmt.Sprint(r)
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				merged = append(merged, s)
			}
		}
	}
	appendUnique(existing["relations"])
	appendUnique(incoming["relations"])

	out := map[string]any{}
	for k, v := range incoming {
		out[k] = v
	}
	out["relations"] = merged
	return out
}

func (m *SemanticManager) Update(ctx context.Context, id string, patch map[string]any) error {
	details, _ := patch["details"].(string)
	return m.updateItem(ctx, id, patch, details, details)
}

func (m *SemanticManager) SoftDelete(ctx context.Context, id string) error { return m.softDelete(ctx, id) }

func (m *SemanticManager) List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return m.list(ctx, userID, filters, limit, offset)
}

func (m *SemanticManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	return hybridSearch(ctx, &m.base, userID, query, opts, semanticBody)
}

func semanticBody(item store.MemoryItem) string {
	concept, _ := item.Fields["concept"].(string)
	details, _ := item.Fields["details"].(string)
	return concept + ": " + details
}
