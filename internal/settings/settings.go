// Package settings implements the Settings component (§4.10): a
// read-through cache over internal/store.UserSettings with lazy
// creation-with-defaults and write-then-invalidate updates.
package settings

import (
	"context"

	"memoria/internal/cache"
	"memoria/internal/errs"
	"memoria/internal/store"
)

// Defaults configures the lazily-created row's initial values (§4.10:
// `chat_model = memory_model = "deepseek-chat"` or configured default).
type Defaults struct {
	ChatModel   string
	MemoryModel string
	Persona     string
}

// Service is the Settings component.
type Service struct {
	cache    *cache.Cache
	store    *store.Store
	defaults Defaults
}

// New builds a Settings service.
func New(c *cache.Cache, s *store.Store, defaults Defaults) *Service {
	return &Service{cache: c, store: s, defaults: defaults}
}

// Get returns a user's settings, creating a default row on first read
// (§4.10). The cache is consulted first; a miss falls through to the Store
// and, if the Store also misses, lazily creates the default row.
func (svc *Service) Get(ctx context.Context, userID string) (store.UserSettings, error) {
	if cached, err := svc.cache.GetSettings(ctx, userID); err == nil {
		return cached, nil
	}

	us, err := svc.store.GetUserSettings(ctx, userID)
	if errs.Is(err, errs.NotFound) {
		us, err = svc.store.UpsertUserSettings(ctx, store.UserSettings{
			UserID:      userID,
			ChatModel:   svc.defaults.ChatModel,
			MemoryModel: svc.defaults.MemoryModel,
			Persona:     svc.defaults.Persona,
		})
	}
	if err != nil {
		return store.UserSettings{}, err
	}

	_ = svc.cache.PutSettings(ctx, us) // cache population is best-effort
	return us, nil
}

// Patch is a partial update; a zero-value field leaves the current value
// unchanged.
type Patch struct {
	ChatModel        *string
	MemoryModel      *string
	Persona          *string
	ScreenMonitoring *bool
}

// Update applies patch, writes through to the Store, then invalidates the
// cache (§4.10's write-then-invalidate) rather than writing the new value
// into the cache directly, so a racing concurrent read never observes a
// half-applied update.
func (svc *Service) Update(ctx context.Context, userID string, patch Patch) (store.UserSettings, error) {
	current, err := svc.Get(ctx, userID)
	if err != nil {
		return store.UserSettings{}, err
	}
	if patch.ChatModel != nil {
		current.ChatModel = *patch.ChatModel
	}
	if patch.MemoryModel != nil {
		current.MemoryModel = *patch.MemoryModel
	}
	if patch.Persona != nil {
		current.Persona = *patch.Persona
	}
	if patch.ScreenMonitoring != nil {
		current.ScreenMonitoring = *patch.ScreenMonitoring
	}

	updated, err := svc.store.UpsertUserSettings(ctx, current)
	if err != nil {
		return store.UserSettings{}, err
	}
	_ = svc.cache.InvalidateSettings(ctx, userID)
	return updated, nil
}
