package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoria/internal/errs"
)

// Store is the single seam every memory manager, agent and the Step Loop
// reach durable state through (§4.1): the relational schema (entity CRUD,
// transactional(fn)) plus the vector and lexical search backends, all on one
// Postgres connection pool.
type Store struct {
	Pool    *pgxpool.Pool
	Vector  VectorIndex
	Lexical LexicalIndex
}

// Open bootstraps the relational schema and both search backends and
// returns a ready-to-use Store.
func Open(ctx context.Context, pool *pgxpool.Pool, vector VectorIndex, lexical LexicalIndex) (*Store, error) {
	if err := bootstrapRelationalSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &Store{Pool: pool, Vector: vector, Lexical: lexical}, nil
}

// Transactional runs fn inside one Postgres transaction (§4.1's
// transactional(fn) contract): any error returned by fn rolls the
// transaction back. Callers needing multiple statements to commit
// atomically (e.g. a Semantic upsert's select-then-insert-or-merge) issue
// them directly against tx.
func (s *Store) Transactional(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return errs.New(errs.Transient, "begin transaction", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errs.New(errs.Transient, "commit transaction", err)
	}
	return nil
}

// newID returns a fresh random identifier for any entity this package mints.
func newID() string { return uuid.New().String() }

// NewItemID mints an identifier usable as a memory item id ahead of
// InsertItem — needed when a caller (e.g. the Resource Manager writing a
// blob to the Object Store) must know the id before the row exists.
func NewItemID() string { return newID() }

// InsertItem creates a memory item, assigning an id if none is set.
func (s *Store) InsertItem(ctx context.Context, item MemoryItem) (MemoryItem, error) {
	if item.ID == "" {
		item.ID = newID()
	}
	fieldsJSON, err := json.Marshal(item.Fields)
	if err != nil {
		return MemoryItem{}, errs.New(errs.InvalidInput, "marshal memory item fields", err)
	}
	now := time.Now().UTC()
	_, err = s.Pool.Exec(ctx, `
INSERT INTO memory_items(id, user_id, class, fields, importance, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
`, item.ID, item.UserID, item.Class, fieldsJSON, item.Importance, now)
	if err != nil {
		return MemoryItem{}, errs.New(errs.Transient, "insert memory item", err)
	}
	item.CreatedAt, item.UpdatedAt = now, now
	return item, nil
}

// UpdateItem replaces an existing memory item's fields/importance.
func (s *Store) UpdateItem(ctx context.Context, item MemoryItem) error {
	fieldsJSON, err := json.Marshal(item.Fields)
	if err != nil {
		return errs.New(errs.InvalidInput, "marshal memory item fields", err)
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE memory_items SET fields=$2, importance=$3, updated_at=now()
WHERE id=$1 AND deleted_at IS NULL
`, item.ID, fieldsJSON, item.Importance)
	if err != nil {
		return errs.New(errs.Transient, "update memory item", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, fmt.Sprintf("memory item %s", item.ID), nil)
	}
	return nil
}

// SoftDeleteItem marks a memory item deleted without removing the row,
// preserving history for audit/undelete.
func (s *Store) SoftDeleteItem(ctx context.Context, id string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE memory_items SET deleted_at=now() WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return errs.New(errs.Transient, "soft delete memory item", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, fmt.Sprintf("memory item %s", id), nil)
	}
	return nil
}

// GetItemByID fetches one memory item, including soft-deleted rows (callers
// that must exclude deleted items filter on DeletedAt themselves).
func (s *Store) GetItemByID(ctx context.Context, id string) (MemoryItem, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT id, user_id, class, fields, importance, created_at, updated_at, deleted_at
FROM memory_items WHERE id=$1`, id)
	return scanMemoryItem(row)
}

// ListFilter is an equality filter matched against a memory item's Fields
// JSONB column (list_by_user's "filters" parameter, §4.1).
type ListFilter map[string]any

// ListItemsByUser returns one user's items in one memory class, honoring
// filters, ordering and pagination (§4.1's list_by_user). Soft-deleted items
// are always excluded.
func (s *Store) ListItemsByUser(ctx context.Context, userID, class string, filters ListFilter, orderBy string, desc bool, limit, offset int) ([]MemoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	if orderBy == "" {
		orderBy = "created_at"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	args := []any{userID, class}
	query := `SELECT id, user_id, class, fields, importance, created_at, updated_at, deleted_at
FROM memory_items WHERE user_id=$1 AND class=$2 AND deleted_at IS NULL`
	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, errs.New(errs.InvalidInput, "marshal list filters", err)
		}
		args = append(args, filterJSON)
		query += fmt.Sprintf(" AND fields @> $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", quoteIdent(orderBy), dir, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.Transient, "list memory items", err)
	}
	defer rows.Close()
	var out []MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryItem(row rowScanner) (MemoryItem, error) {
	var item MemoryItem
	var fieldsJSON []byte
	if err := row.Scan(&item.ID, &item.UserID, &item.Class, &fieldsJSON, &item.Importance, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return MemoryItem{}, errs.New(errs.NotFound, "memory item", err)
		}
		return MemoryItem{}, errs.New(errs.Transient, "scan memory item", err)
	}
	item.Fields = map[string]any{}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &item.Fields); err != nil {
			return MemoryItem{}, errs.New(errs.Fatal, "unmarshal memory item fields", err)
		}
	}
	return item, nil
}

// quoteIdent allowlists the small set of columns callers may order by,
// since orderBy is interpolated into SQL rather than bound as a parameter.
func quoteIdent(col string) string {
	switch col {
	case "created_at", "updated_at", "importance":
		return col
	default:
		return "created_at"
	}
}
