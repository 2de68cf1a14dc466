package memory

import (
	"context"
	"strings"

	"memoria/internal/errs"
	"memoria/internal/store"
)

// DefaultCoreBlockLimit is the default character bound on each Core Memory
// block (§3: "≤ configurable char limit, default 2000").
const DefaultCoreBlockLimit = 2000

// coreBlockSearchScore is the fixed conventional similarity Core Memory
// search reports on a substring match (§4.5: "returned ... with a
// conventional similarity of 0.8" — there is no embedding to score against).
const coreBlockSearchScore = 0.8

// CoreManager implements the Core memory class (§3/§4.5): a single record
// per user composed of two named blocks, `human` and `persona`, each
// latest-write-wins with no per-block history. Concurrent writers are
// serialized per user via userLocks, since append/replace is read-modify-
// write over the same two fields (§5).
type CoreManager struct {
	base
	locks    *userLocks
	blockCap int
}

// NewCoreManager constructs the Core Memory Manager. Core Memory carries no
// embedding index (search is substring/phrase match), so the base struct's
// embedder stays nil.
func NewCoreManager(st *store.Store, blockCap int) *CoreManager {
	if blockCap <= 0 {
		blockCap = DefaultCoreBlockLimit
	}
	return &CoreManager{
		base:     base{class: ClassCore, store: st, lexicalField: ""},
		locks:    newUserLocks(),
		blockCap: blockCap,
	}
}

// getOrCreate returns the user's single Core Memory record, creating an
// empty one (both blocks "") if none exists yet. Callers must already hold
// locks for userID.
func (m *CoreManager) getOrCreate(ctx context.Context, userID string) (store.MemoryItem, error) {
	items, err := m.store.ListItemsByUser(ctx, userID, string(ClassCore), nil, "created_at", false, 1, 0)
	if err != nil {
		return store.MemoryItem{}, err
	}
	if len(items) > 0 {
		return items[0], nil
	}
	return m.store.InsertItem(ctx, store.MemoryItem{
		UserID:     userID,
		Class:      string(ClassCore),
		Fields:     map[string]any{"human": "", "persona": ""},
		Importance: 1.0,
	})
}

// Create is a no-op convenience satisfying the Manager interface: Core
// Memory's single record per user is created lazily by getOrCreate, not by
// an explicit Create call. It returns the (possibly freshly-created) record.
func (m *CoreManager) Create(ctx context.Context, userID string, _ map[string]any) (store.MemoryItem, error) {
	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)
	return m.getOrCreate(ctx, userID)
}

// Append adds text to the named block ("human" or "persona"), rejecting the
// write with InvalidInput if the result would exceed the block's char limit
// (§8 S3) and leaving the stored block unchanged.
func (m *CoreManager) Append(ctx context.Context, userID, block, text string) (store.MemoryItem, error) {
	if block != "human" && block != "persona" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "unknown core memory block "+block, nil)
	}
	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)

	item, err := m.getOrCreate(ctx, userID)
	if err != nil {
		return store.MemoryItem{}, err
	}
	current, _ := item.Fields[block].(string)
	updated := current + text
	if len(updated) > m.blockCap {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "core memory block "+block+" would exceed its character limit", nil)
	}
	item.Fields[block] = updated
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return store.MemoryItem{}, err
	}
	return item, nil
}

// Replace overwrites the named block wholesale, subject to the same char
// limit.
func (m *CoreManager) Replace(ctx context.Context, userID, block, text string) (store.MemoryItem, error) {
	if block != "human" && block != "persona" {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "unknown core memory block "+block, nil)
	}
	if len(text) > m.blockCap {
		return store.MemoryItem{}, errs.New(errs.InvalidInput, "core memory block "+block+" would exceed its character limit", nil)
	}
	m.locks.Lock(userID)
	defer m.locks.Unlock(userID)

	item, err := m.getOrCreate(ctx, userID)
	if err != nil {
		return store.MemoryItem{}, err
	}
	item.Fields[block] = text
	if err := m.store.UpdateItem(ctx, item); err != nil {
		return store.MemoryItem{}, err
	}
	return item, nil
}

// Update applies arbitrary block overwrites supplied in patch (keys "human"
// and/or "persona"), satisfying the Manager interface in terms of Replace.
func (m *CoreManager) Update(ctx context.Context, id string, patch map[string]any) error {
	item, err := m.store.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	for _, block := range []string{"human", "persona"} {
		text, ok := patch[block].(string)
		if !ok {
			continue
		}
		if len(text) > m.blockCap {
			return errs.New(errs.InvalidInput, "core memory block "+block+" would exceed its character limit", nil)
		}
		item.Fields[block] = text
	}
	return m.store.UpdateItem(ctx, item)
}

// SoftDelete is supported for completeness (e.g. account deletion) though
// the step loop never calls it directly.
func (m *CoreManager) SoftDelete(ctx context.Context, id string) error { return m.softDelete(ctx, id) }

// List returns the user's single Core Memory record, if any.
func (m *CoreManager) List(ctx context.Context, userID string, _ store.ListFilter, _, _ int) ([]store.MemoryItem, error) {
	return m.store.ListItemsByUser(ctx, userID, string(ClassCore), nil, "created_at", false, 1, 0)
}

// Search performs the §4.5 substring/phrase match over both blocks: a
// non-empty query that appears (case-insensitively) in a block returns that
// whole block at a fixed conventional similarity of 0.8.
func (m *CoreManager) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error) {
	items, err := m.List(ctx, userID, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || query == "" {
		return nil, nil
	}
	item := items[0]
	threshold := opts.Threshold
	var out []Result
	q := strings.ToLower(query)
	for _, block := range []string{"human", "persona"} {
		text, _ := item.Fields[block].(string)
		if text == "" {
			continue
		}
		if strings.Contains(strings.ToLower(text), q) && coreBlockSearchScore >= threshold {
			out = append(out, Result{ID: item.ID, Class: ClassCore, Score: coreBlockSearchScore, Body: text, Item: item})
		}
	}
	return out, nil
}
