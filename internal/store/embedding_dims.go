package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"memoria/internal/errs"
)

// GetUserDModel returns the native embedding dimension recorded for a user's
// existing items, or NotFound if the user has no items indexed yet — the
// per-user D_model invariant from §9: a write whose D_model disagrees with
// the recorded value must be refused with Fatal, enforced by Memory
// Managers calling this before Create.
func (s *Store) GetUserDModel(ctx context.Context, userID string) (int, error) {
	var d int
	err := s.Pool.QueryRow(ctx, `SELECT d_model FROM user_embedding_dims WHERE user_id=$1`, userID).Scan(&d)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, errs.New(errs.NotFound, "no recorded embedding dimension for user "+userID, err)
		}
		return 0, errs.New(errs.Transient, "get user embedding dimension", err)
	}
	return d, nil
}

// SetUserDModel records the native embedding dimension the first time a
// user's item is indexed.
func (s *Store) SetUserDModel(ctx context.Context, userID string, dModel int) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO user_embedding_dims(user_id, d_model) VALUES ($1,$2)
ON CONFLICT (user_id) DO NOTHING`, userID, dModel)
	if err != nil {
		return errs.New(errs.Transient, "set user embedding dimension", err)
	}
	return nil
}
