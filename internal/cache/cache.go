// Package cache wraps the Redis client (§4.1/§4.10) backing three things
// that are deliberately not in Postgres: the Settings read-through cache
// (5-minute TTL), the confirmation-ticket table (TTL-expiring, Redis-only
// per §3), and the primary copy of the otid idempotency dedup (§3, §8
// property 8), with internal/store's idempotency_records table as its
// audit-only mirror.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"memoria/internal/config"
	"memoria/internal/errs"
	"memoria/internal/store"
)

// Cache is the Redis-backed cache component.
type Cache struct {
	rdb *redis.Client
}

// New connects to Redis per the configured address/credentials.
func New(cfg config.CacheConfig) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Ping reports Redis reachability for the /health sub-check.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errs.New(errs.Transient, "ping redis", err)
	}
	return nil
}

func settingsKey(userID string) string { return "settings:" + userID }

// GetSettings returns a cached UserSettings, or NotFound on a cache miss so
// the Settings component (§4.10) can fall through to the Store.
func (c *Cache) GetSettings(ctx context.Context, userID string) (store.UserSettings, error) {
	raw, err := c.rdb.Get(ctx, settingsKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return store.UserSettings{}, errs.New(errs.NotFound, "settings cache miss", nil)
		}
		return store.UserSettings{}, errs.New(errs.Transient, "get cached settings", err)
	}
	var us store.UserSettings
	if err := json.Unmarshal(raw, &us); err != nil {
		return store.UserSettings{}, errs.New(errs.Fatal, "unmarshal cached settings", err)
	}
	return us, nil
}

// PutSettings caches settings for the 5-minute TTL (§4.10).
func (c *Cache) PutSettings(ctx context.Context, us store.UserSettings) error {
	raw, err := json.Marshal(us)
	if err != nil {
		return errs.New(errs.Fatal, "marshal settings for cache", err)
	}
	if err := c.rdb.Set(ctx, settingsKey(us.UserID), raw, 5*time.Minute).Err(); err != nil {
		return errs.New(errs.Transient, "cache settings", err)
	}
	return nil
}

// InvalidateSettings drops the cached row so the next get re-reads the
// Store (§4.10's "update writes-then-invalidates").
func (c *Cache) InvalidateSettings(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, settingsKey(userID)).Err(); err != nil {
		return errs.New(errs.Transient, "invalidate settings cache", err)
	}
	return nil
}

func otidKey(agentID, otid string) string { return "otid:" + agentID + ":" + otid }

// ClaimOtid attempts to atomically claim an otid for an agent (SET NX, 60s
// TTL, §8 property 8). claimed=false means this otid was already seen
// within the last 60s and the caller must return the previous result
// instead of re-invoking the handler.
func (c *Cache) ClaimOtid(ctx context.Context, agentID, otid string) (claimed bool, err error) {
	ok, err := c.rdb.SetNX(ctx, otidKey(agentID, otid), time.Now().UTC().Format(time.RFC3339Nano), 60*time.Second).Result()
	if err != nil {
		return false, errs.New(errs.Transient, "claim otid", err)
	}
	return ok, nil
}

func confirmationKey(id string) string { return "confirmation:" + id }

// PutConfirmationTicket stores a suspended tool call awaiting
// /confirmation/respond. Confirmation tickets live only in Redis (§3, §4.1)
// so they naturally expire via TTL instead of needing a GC sweep.
func (c *Cache) PutConfirmationTicket(ctx context.Context, t store.ConfirmationTicket, ttl time.Duration) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return errs.New(errs.Fatal, "marshal confirmation ticket", err)
	}
	if err := c.rdb.Set(ctx, confirmationKey(t.ID), raw, ttl).Err(); err != nil {
		return errs.New(errs.Transient, "store confirmation ticket", err)
	}
	return nil
}

// ResolveConfirmationTicket fetches and deletes a ticket atomically.
// NotFound covers both "never existed" and "expired" since Redis's own TTL
// eviction makes them indistinguishable.
func (c *Cache) ResolveConfirmationTicket(ctx context.Context, id string) (store.ConfirmationTicket, error) {
	raw, err := c.rdb.GetDel(ctx, confirmationKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return store.ConfirmationTicket{}, errs.New(errs.NotFound, "confirmation ticket "+id, nil)
		}
		return store.ConfirmationTicket{}, errs.New(errs.Transient, "get confirmation ticket", err)
	}
	var t store.ConfirmationTicket
	if err := json.Unmarshal(raw, &t); err != nil {
		return store.ConfirmationTicket{}, errs.New(errs.Fatal, "unmarshal confirmation ticket", err)
	}
	return t, nil
}
