package memory

import (
	"context"
	"fmt"
	"time"

	"memoria/internal/errs"
	"memoria/internal/rag/embedder"
	"memoria/internal/store"
)

// EpisodicManager implements the Episodic memory class (§3/§4.5): indexed
// field `details_embedding`, lexical field and return body both `content`.
type EpisodicManager struct{ base }

// NewEpisodicManager constructs the Episodic Memory Manager.
func NewEpisodicManager(st *store.Store, emb embedder.Embedder, storageDim int) *EpisodicManager {
	return &EpisodicManager{base{class: ClassEpisodic, store: st, embedder: emb, storageDim: storageDim, embedField: "content", lexicalField: "content"}}
}

// Create validates required fields and writes the item (§4.5: create
// validates invariants, computes embedding, writes via the Store).
func (m *EpisodicManager) Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	content, _ := fields["content"].(string)
	if content == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "episodic memory requires non-empty content", nil)
	}
	if _, ok := fields["importance"]; !ok {
		fields["importance"] = 0.5
	}
	if _, ok := fields["timestamp"]; !ok {
		fields["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	return m.createItem(ctx, userID, fields, content, content)
}

func (m *EpisodicManager) Update(ctx context.Context, id string, patch map[string]any) error {
	content, _ := patch["content"].(string)
	return m.updateItem(ctx, id, patch, content, content)
}

func (m *EpisodicManager) SoftDelete(ctx context.Context, id string) error { return m.softDelete(ctx, id) }

func (m *EpisodicManager) List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return m.list(ctx, userID, filters, limit, offset)
}

func (m *EpisodicManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	return hybridSearch(ctx, &m.base, userID, query, opts, episodicBody)
}

func episodicBody(item store.MemoryItem) string {
	content, _ := item.Fields["content"].(string)
	return content
}

// DecayImportance multiplies every Episodic item's importance by factor,
// floored at 0.01 (§4.5's importance-decay background job). Intended to run
// periodically (e.g. hourly) for each active user, or swept across all
// users by a scheduler outside this package.
func (m *EpisodicManager) DecayImportance(ctx context.Context, userID string, factor float64) error {
	items, err := m.list(ctx, userID, nil, 0, 0)
	if err != nil {
		return err
	}
	for _, item := range items {
		importance, _ := item.Fields["importance"].(float64)
		decayed := importance * factor
		if decayed < 0.01 {
			decayed = 0.01
		}
		item.Importance = decayed
		item.Fields["importance"] = decayed
		if err := m.store.UpdateItem(ctx, item); err != nil {
			return fmt.Errorf("decay importance for item %s: %w", item.ID, err)
		}
	}
	return nil
}
