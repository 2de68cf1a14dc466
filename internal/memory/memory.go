// Package memory implements the Memory Managers (§4.5): one manager per
// memory class, each enforcing that class's invariants, computing
// embeddings on write, and performing hybrid vector+lexical retrieval
// through internal/store.
package memory

import (
	"context"
	"sort"
	"time"

	"memoria/internal/errs"
	"memoria/internal/rag/embedder"
	"memoria/internal/store"
)

// Class is the sum type spec.md §9's design notes calls for in place of
// duck-typed class name strings.
type Class string

const (
	ClassCore           Class = "core"
	ClassEpisodic       Class = "episodic"
	ClassSemantic       Class = "semantic"
	ClassProcedural     Class = "procedural"
	ClassResource       Class = "resource"
	ClassKnowledgeVault Class = "knowledge_vault"
)

// SearchMethod selects how Manager.Search ranks candidates (§4.5).
type SearchMethod string

const (
	MethodEmbedding SearchMethod = "embedding"
	MethodBM25      SearchMethod = "bm25"
	MethodHybrid    SearchMethod = "hybrid"
)

// Default hybrid weights (§4.5): w_vec·sim + w_bm25·rank_score. A literal
// weighted sum, not reciprocal-rank fusion — settled in an earlier design
// pass and load-bearing for S1/S2 scenario thresholds.
const (
	DefaultVectorWeight = 0.7
	DefaultBM25Weight   = 0.3
)

// SearchOptions parameterizes Manager.Search.
type SearchOptions struct {
	Method    SearchMethod
	Limit     int
	Threshold float64
}

// Result is one ranked hit, already projected to its class's "return body"
// per the §4.5 field-mapping table.
type Result struct {
	ID    string
	Class Class
	Score float64
	Body  string
	Item  store.MemoryItem
}

// Manager is the capability interface every class's manager implements
// (§9's {create, update, soft_delete, search, list}).
type Manager interface {
	Class() Class
	Create(ctx context.Context, userID string, fields map[string]any) (store.MemoryItem, error)
	Update(ctx context.Context, id string, patch map[string]any) error
	SoftDelete(ctx context.Context, id string) error
	Search(ctx context.Context, userID, query string, opts SearchOptions) ([]Result, error)
	List(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error)
}

// base holds the dependencies and hybrid-search plumbing shared by every
// class's manager; concrete managers embed it and supply the class-specific
// field names and body-projection logic.
type base struct {
	class        Class
	store        *store.Store
	embedder     embedder.Embedder
	storageDim   int    // D_pad
	embedField   string // the Fields key holding the embeddable text, "" if class isn't vector-searchable
	lexicalField string // the Fields key lexically indexed
}

func (b *base) Class() Class { return b.class }

// padToDPad zero-pads an embedding from its native D_model out to D_pad
// (§3 invariant). A vector wider than dPad is cut to its first dPad
// components; indexEmbedding refuses such vectors as Fatal before padding,
// so none is written to the index.
func padToDPad(v []float32, dPad int) []float32 {
	if len(v) >= dPad {
		return v[:dPad]
	}
	out := make([]float32, dPad)
	copy(out, v)
	return out
}

// checkDModel enforces the per-user embedding-dimension invariant (§9):
// a user's first indexed item records D_model; later writes at a different
// D_model are refused as Fatal rather than silently mixed into the index.
func (b *base) checkDModel(ctx context.Context, userID string, dModel int) error {
	recorded, err := b.store.GetUserDModel(ctx, userID)
	if errs.Is(err, errs.NotFound) {
		return b.store.SetUserDModel(ctx, userID, dModel)
	}
	if err != nil {
		return err
	}
	if recorded != dModel {
		return errs.New(errs.Fatal, "embedding dimension drift for user: recorded D_model does not match this write", nil)
	}
	return nil
}

// indexEmbedding embeds text, enforces the D_model invariant, pads to
// D_pad, and upserts into the vector index.
func (b *base) indexEmbedding(ctx context.Context, userID, id, text string) error {
	if b.embedField == "" || text == "" {
		return nil
	}
	vecs, err := b.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return errs.New(errs.Transient, "embed memory item", err)
	}
	vec := vecs[0]
	if len(vec) > b.storageDim {
		return errs.New(errs.Fatal, "embedding is wider than the configured D_pad", nil)
	}
	if err := b.checkDModel(ctx, userID, len(vec)); err != nil {
		return err
	}
	padded := padToDPad(vec, b.storageDim)
	if err := b.store.Vector.Upsert(ctx, userID, string(b.class), id, padded, nil); err != nil {
		return errs.New(errs.Transient, "upsert memory item embedding", err)
	}
	return nil
}

func (b *base) indexLexical(ctx context.Context, userID, id, text string) error {
	if text == "" {
		return nil
	}
	if err := b.store.Lexical.Index(ctx, userID, string(b.class), id, text); err != nil {
		return errs.New(errs.Transient, "lexically index memory item", err)
	}
	return nil
}

// searchEmbedding implements §4.5's method="embedding": embed the query,
// pad, vector_search, and keep the Store's cosine similarity at D_pad as each
// candidate's score (the candidate's own stored vector is zero-padded to
// D_pad like the query, so this equals the similarity of both truncated to
// D_model).
func (b *base) searchEmbedding(ctx context.Context, userID, query string, limit int, retryOnTransientSignature bool) ([]store.VectorResult, error) {
	vecs, err := b.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, errs.New(errs.Transient, "embed search query", err)
	}
	padded := padToDPad(vecs[0], b.storageDim)

	var (
		results []store.VectorResult
		lastErr error
	)
	attempts := 1
	if retryOnTransientSignature {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		results, lastErr = b.store.Vector.SimilaritySearch(ctx, userID, string(b.class), padded, limit)
		if lastErr == nil {
			return results, nil
		}
		if !errs.Is(lastErr, errs.Transient) {
			return nil, lastErr
		}
		time.Sleep(time.Second)
	}
	return nil, lastErr
}

// hybridMerge combines vector and lexical result sets by id (§4.5): each
// side contributes up to 2*limit candidates, scores combine as a weighted
// sum, then the merged set is sorted descending and truncated to limit.
func hybridMerge(vec []store.VectorResult, lex []store.SearchResult, limit int) map[string]float64 {
	scores := make(map[string]float64, len(vec)+len(lex))
	var maxLexScore float64
	for _, r := range lex {
		if r.Score > maxLexScore {
			maxLexScore = r.Score
		}
	}
	for _, r := range vec {
		scores[r.ID] += DefaultVectorWeight * r.Score
	}
	for _, r := range lex {
		rank := r.Score
		if maxLexScore > 0 {
			rank = r.Score / maxLexScore // normalize ts_rank onto [0,1] before weighting
		}
		scores[r.ID] += DefaultBM25Weight * rank
	}
	return scores
}

// createItem inserts the row then indexes embedText/lexicalText as the
// class's manager directs. Embedding/indexing failures are surfaced to the
// caller (they are Transient/Fatal per §4.2/§9), but the row itself is
// already durable — a Memory Manager retrying Create on a Transient
// embedding failure will re-run against the same written row on retry via
// its own id.
func (b *base) createItem(ctx context.Context, userID string, fields map[string]any, embedText, lexicalText string) (store.MemoryItem, error) {
	return b.createItemWithID(ctx, "", userID, fields, embedText, lexicalText)
}

// createItemWithID is createItem for callers that must know the item's id
// before the row exists (e.g. a Resource item whose blob key embeds the id).
// An empty id lets the Store mint one as usual.
func (b *base) createItemWithID(ctx context.Context, id, userID string, fields map[string]any, embedText, lexicalText string) (store.MemoryItem, error) {
	item, err := b.store.InsertItem(ctx, store.MemoryItem{
		ID:         id,
		UserID:     userID,
		Class:      string(b.class),
		Fields:     fields,
		Importance: 1.0,
	})
	if err != nil {
		return store.MemoryItem{}, err
	}
	if err := b.indexEmbedding(ctx, userID, item.ID, embedText); err != nil {
		return item, err
	}
	if err := b.indexLexical(ctx, userID, item.ID, lexicalText); err != nil {
		return item, err
	}
	return item, nil
}

func (b *base) updateItem(ctx context.Context, id string, patch map[string]any, embedText, lexicalText string) error {
	item, err := b.store.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	for k, v := range patch {
		item.Fields[k] = v
	}
	if err := b.store.UpdateItem(ctx, item); err != nil {
		return err
	}
	if embedText != "" {
		if err := b.indexEmbedding(ctx, item.UserID, id, embedText); err != nil {
			return err
		}
	}
	if lexicalText != "" {
		if err := b.indexLexical(ctx, item.UserID, id, lexicalText); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) softDelete(ctx context.Context, id string) error {
	item, err := b.store.GetItemByID(ctx, id)
	if err != nil {
		return err
	}
	if err := b.store.SoftDeleteItem(ctx, id); err != nil {
		return err
	}
	_ = b.store.Vector.Delete(ctx, id)
	_ = b.store.Lexical.Remove(ctx, id)
	_ = item // kept for symmetry/readability; userID already known by caller where needed
	return nil
}

func (b *base) list(ctx context.Context, userID string, filters store.ListFilter, limit, offset int) ([]store.MemoryItem, error) {
	return b.store.ListItemsByUser(ctx, userID, string(b.class), filters, "created_at", true, limit, offset)
}

// bodyFunc projects a stored item onto its class's "return body" (§4.5's
// field-mapping table).
type bodyFunc func(store.MemoryItem) string

// hybridSearch implements Manager.Search's embedding/bm25/hybrid dispatch
// (§4.5) for every class except Core, which matches by substring instead.
func hybridSearch(ctx context.Context, b *base, userID, query string, opts SearchOptions, body bodyFunc) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	switch opts.Method {
	case MethodBM25:
		lex, err := b.store.Lexical.Search(ctx, userID, string(b.class), query, limit)
		if err != nil {
			return nil, errs.New(errs.Transient, "lexical search", err)
		}
		return fetchResults(ctx, b, userID, lexIDsAboveThreshold(lex, opts.Threshold), body)

	case MethodEmbedding, "":
		vec, err := b.searchEmbedding(ctx, userID, query, limit, true)
		if err != nil {
			return nil, err
		}
		ids := make(map[string]float64, len(vec))
		for _, r := range vec {
			if r.Score >= opts.Threshold {
				ids[r.ID] = r.Score
			}
		}
		return fetchResults(ctx, b, userID, ids, body)

	case MethodHybrid:
		vec, err := b.searchEmbedding(ctx, userID, query, 2*limit, true)
		if err != nil {
			return nil, err
		}
		lex, err := b.store.Lexical.Search(ctx, userID, string(b.class), query, 2*limit)
		if err != nil {
			return nil, errs.New(errs.Transient, "lexical search", err)
		}
		scores := hybridMerge(vec, lex, limit)
		ranked := rankedIDs(scores, limit)
		ids := make(map[string]float64, len(ranked))
		for _, r := range ranked {
			if r.Score >= opts.Threshold {
				ids[r.ID] = r.Score
			}
		}
		return fetchResults(ctx, b, userID, ids, body)

	default:
		return nil, errs.New(errs.InvalidInput, "unknown search method "+string(opts.Method), nil)
	}
}

func lexIDsAboveThreshold(lex []store.SearchResult, threshold float64) map[string]float64 {
	ids := make(map[string]float64, len(lex))
	for _, r := range lex {
		if r.Score >= threshold {
			ids[r.ID] = r.Score
		}
	}
	return ids
}

// fetchResults loads each scored id's row, drops any the Store no longer
// has (e.g. soft-deleted since the index was last refreshed), and sorts
// descending by score.
func fetchResults(ctx context.Context, b *base, userID string, scored map[string]float64, body bodyFunc) ([]Result, error) {
	out := make([]Result, 0, len(scored))
	for id, score := range scored {
		item, err := b.store.GetItemByID(ctx, id)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				continue
			}
			return nil, err
		}
		if item.DeletedAt != nil || item.UserID != userID {
			continue
		}
		out = append(out, Result{ID: id, Class: b.class, Score: score, Body: body(item), Item: item})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// rankedIDs sorts a score map descending and truncates to limit.
func rankedIDs(scores map[string]float64, limit int) []struct {
	ID    string
	Score float64
} {
	out := make([]struct {
		ID    string
		Score float64
	}, 0, len(scores))
	for id, sc := range scores {
		out = append(out, struct {
			ID    string
			Score float64
		}{id, sc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
