package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLexicalIndex is the Postgres tsvector/ts_rank-backed LexicalIndex
// (§4.1). It shares the same user_id/class scoping discipline as
// pgVectorIndex, in one physical table across all six memory classes.
type pgLexicalIndex struct {
	pool *pgxpool.Pool
}

// NewPgLexicalIndex bootstraps the backing table and its GIN index.
func NewPgLexicalIndex(ctx context.Context, pool *pgxpool.Pool) (LexicalIndex, error) {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_documents (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  class TEXT NOT NULL,
  text TEXT NOT NULL,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED
);
CREATE INDEX IF NOT EXISTS memory_documents_ts_idx ON memory_documents USING GIN (ts);
CREATE INDEX IF NOT EXISTS memory_documents_user_class_idx ON memory_documents(user_id, class);
`); err != nil {
		return nil, err
	}
	return &pgLexicalIndex{pool: pool}, nil
}

// englishStopwords is applied by this layer before the text ever reaches
// to_tsvector, because the 'simple' text search configuration (required so
// stemming doesn't diverge from the embedding model's tokenization) does not
// strip stopwords itself.
var englishStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {}, "then": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "for": {}, "with": {}, "as": {}, "by": {},
	"at": {}, "it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "i": {},
	"you": {}, "he": {}, "she": {}, "we": {}, "they": {}, "do": {}, "does": {}, "did": {}, "over": {},
}

func stripStopwords(text string) string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(strings.Trim(f, ".,;:!?\"'()"))
		if _, stop := englishStopwords[lower]; stop {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func (p *pgLexicalIndex) Index(ctx context.Context, userID, class, id, text string) error {
	filtered := stripStopwords(text)
	_, err := p.pool.Exec(ctx, `
INSERT INTO memory_documents(id, user_id, class, text) VALUES($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET text=EXCLUDED.text, user_id=EXCLUDED.user_id, class=EXCLUDED.class
`, id, userID, class, filtered)
	return err
}

func (p *pgLexicalIndex) Remove(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM memory_documents WHERE id=$1`, id)
	return err
}

func (p *pgLexicalIndex) Search(ctx context.Context, userID, class, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	q := stripStopwords(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, ts_rank(ts, plainto_tsquery('simple',$1)) AS score, left(text, 160) AS snippet, text
FROM memory_documents
WHERE user_id=$2 AND class=$3 AND ts @@ plainto_tsquery('simple',$1)
ORDER BY score DESC
LIMIT $4
`, q, userID, class, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SearchResult, 0, k)
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &r.Text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
