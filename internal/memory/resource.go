package memory

import (
	"context"
	"strings"

	"memoria/internal/errs"
	"memoria/internal/objectstore"
	"memoria/internal/rag/embedder"
	"memoria/internal/store"
)

// ResourceManager implements the Resource memory class (§3/§4.5): indexed
// field `summary`, lexical field and return body both `content` (full
// text). SPEC_FULL.md §4.14 resolves the Open Question on raw attachments:
// when a resource carries a `blob` payload, it is written to the Object
// Store under `resources/<user_id>/<item_id>` and only the resulting key is
// retained in Fields — the blob itself never lives in Postgres or the
// index.
type ResourceManager struct {
	base
	objects objectstore.ObjectStore // optional; nil disables blob storage
}

// NewResourceManager constructs the Resource Memory Manager. objects may be
// nil when no Object Store is configured; raw-attachment resources are then
// rejected with InvalidInput rather than silently dropping the payload.
func NewResourceManager(st *store.Store, emb embedder.Embedder, storageDim int, objects objectstore.ObjectStore) *ResourceManager {
	return &ResourceManager{
		base:    base{class: ClassResource, store: st, embedder: emb, storageDim: storageDim, embedField: "summary", lexicalField: "content"},
		objects: objects,
	}
}

// Create validates required fields, optionally persists a raw blob to the
// Object Store, and writes the item. The embedding is computed over
// `summary` only (resolved Open Question: full `content` can be arbitrarily
// large and would blow past most embedding models' input limits).
func (m *ResourceManager) Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error) {
	summary, _ := fields["summary"].(string)
	content, _ := fields["content"].(string)
	if summary == "" || content == "" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "resource memory requires summary and content", nil)
	}

	if blob, ok := fields["blob"].(string); ok && blob != "" {
		if m.objects == nil {
			return store.MemoryItem{}, errs.New(errs.InvalidInput, "resource blob provided but no object store configured", nil)
		}
		id := store.NewItemID()
		key := "resources/" + userID + "/" + id
		if _, err := m.objects.Put(ctx, key, strings.NewReader(blob), objectstore.PutOptions{ContentType: "application/octet-stream"}); err != nil {
			return store.MemoryItem{}, errs.New(errs.Transient, "store resource blob", err)
		}
		delete(fields, "blob")
		fields["blob_key"] = key
		return m.createItemWithID(ctx, id, userID, fields, summary, content)
	}

	return m.createItem(ctx, userID, fields, summary, content)
}

func (m *ResourceManager) Update(ctx context.Context, id string, patch map[string]any) error {
	summary, _ := patch["summary"].(string)
	content, _ := patch["content"].(string)
	return m.updateItem(ctx, id, patch, summary, content)
}

// SoftDelete marks the item deleted, drops its index entries and, when
// present, deletes the backing blob.
func (m *ResourceManager) SoftDelete(ctx context.Context, id string) error {
	item, err := m.store.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.softDelete(ctx, id); err != nil {
		return err
	}
	if key, ok := item.Fields["blob_key"].(string); ok && key != "" && m.objects != nil {
		_ = m.objects.Delete(ctx, key)
	}
	return nil
}

func (m *ResourceManager) List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return m.list(ctx, userID, filters, limit, offset)
}

func (m *ResourceManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	return hybridSearch(ctx, &m.base, userID, query, opts, resourceBody)
}

func resourceBody(item store.MemoryItem) string {
	content, _ := item.Fields["content"].(string)
	return content
}
