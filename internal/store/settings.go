package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"memoria/internal/errs"
)

// GetUserSettings fetches persisted settings, returning NotFound when the
// row doesn't exist yet — the Settings component (§4.10) is responsible for
// lazy-creation-with-defaults on that NotFound, not the Store.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (UserSettings, error) {
	var us UserSettings
	err := s.Pool.QueryRow(ctx, `
SELECT user_id, chat_model, memory_model, persona, screen_monitoring, updated_at
FROM user_settings WHERE user_id=$1`, userID).
		Scan(&us.UserID, &us.ChatModel, &us.MemoryModel, &us.Persona, &us.ScreenMonitoring, &us.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return UserSettings{}, errs.New(errs.NotFound, "user settings "+userID, err)
		}
		return UserSettings{}, errs.New(errs.Transient, "get user settings", err)
	}
	return us, nil
}

// UpsertUserSettings writes settings, used both for first-time lazy
// creation and for update (§4.10's write-then-invalidate).
func (s *Store) UpsertUserSettings(ctx context.Context, us UserSettings) (UserSettings, error) {
	us.UpdatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `
INSERT INTO user_settings(user_id, chat_model, memory_model, persona, screen_monitoring, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id) DO UPDATE SET
  chat_model=EXCLUDED.chat_model, memory_model=EXCLUDED.memory_model,
  persona=EXCLUDED.persona, screen_monitoring=EXCLUDED.screen_monitoring, updated_at=EXCLUDED.updated_at
`, us.UserID, us.ChatModel, us.MemoryModel, us.Persona, us.ScreenMonitoring, us.UpdatedAt)
	if err != nil {
		return UserSettings{}, errs.New(errs.Transient, "upsert user settings", err)
	}
	return us, nil
}
