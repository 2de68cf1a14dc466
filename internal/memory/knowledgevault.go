package memory

import (
	"context"

	"memoria/internal/errs"
	"memoria/internal/store"
)

// KnowledgeVaultManager implements the Knowledge-Vault memory class
// (§3/§4.5): no embedding field, lexical field and return body both
// `caption`+`payload`. Secrets/credentials land here, so Search never falls
// back to an embedding index that an unrelated provider call could leak
// plaintext into — this class is lexical-only by construction, not by
// caller discipline.
type KnowledgeVaultManager struct{ base }

// NewKnowledgeVaultManager constructs the Knowledge-Vault Memory Manager.
// It takes no embedder: embedField is left empty so indexEmbedding/
// searchEmbedding are permanently no-ops for this class.
func NewKnowledgeVaultManager(st *store.Store) *KnowledgeVaultManager {
	return &KnowledgeVaultManager{base{class: ClassKnowledgeVault, store: st, lexicalField: "caption"}}
}

// Create validates required fields and writes the item.
func (m *KnowledgeVaultManager) Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	caption, _ := fields["caption"].(string)
	if caption == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "knowledge vault entry requires caption", nil)
	}
	if _, ok := fields["payload"]; !ok {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "knowledge vault entry requires payload", nil)
	}
	return m.createItem(ctx, userID, fields, "", knowledgeVaultBody(store.MemoryItem{Fields: fields}))
}

func (m *KnowledgeVaultManager) Update(ctx context.Context, id string, patch map[string]any) error {
	item, err := m.store.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	merged := map[string]any{}
	for k, v := range item.Fields {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return m.updateItem(ctx, id, patch, "", knowledgeVaultBody(store.MemoryItem{Fields: merged}))
}

func (m *KnowledgeVaultManager) SoftDelete(ctx context.Context, id string) error { return m.softDelete(ctx, id) }

func (m *KnowledgeVaultManager) List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return m.list(ctx, userID, filters, limit, offset)
}

// Search always runs BM25 regardless of opts.Method: this class carries no
// embedding index to fall back on.
func (m *KnowledgeVaultManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	opts.Method = MethodBM25
	return hybridSearch(ctx, &m.base, userID, query, opts, knowledgeVaultBody)
}

func knowledgeVaultBody(item store.MemoryItem) string {
	caption, _ := item.Fields["caption"].(string)
	payload, _ := item.Fields["payload"].(string)
	if payload == "" {
		return caption
	}
	return caption + ": " + payload
}
