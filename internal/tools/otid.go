package tools

import (
	"context"
	"encoding/json"

	"memoria/internal/cache"
	"memoria/internal/errs"
	"memoria/internal/llm"
	"memoria/internal/store"
)

// otidArgs is the envelope every tool call carries an optional otid on
// (§3, §4.4, §8 property 8): a client-minted idempotency token so a retried
// request doesn't double-apply a mutation.
type otidArgs struct {
	Otid string `json:"otid"`
}

// otidDedupRegistry wraps a Registry so a Dispatch call whose args carry an
// otid already claimed for this agent is a no-op repeat: it returns the
// same "already applied" payload without re-invoking the underlying tool.
// The primary claim lives in Redis (cache.ClaimOtid, SET NX); the Store's
// idempotency_records table is written best-effort as an audit mirror for
// when the cache entry has already expired.
type otidDedupRegistry struct {
	base  Registry
	cache *cache.Cache
	store *store.Store
}

// NewOtidDedupRegistry wraps base with otid dedup.
func NewOtidDedupRegistry(base Registry, c *cache.Cache, st *store.Store) Registry {
	return &otidDedupRegistry{base: base, cache: c, store: st}
}

func (r *otidDedupRegistry) Register(t Tool)           { r.base.Register(t) }
func (r *otidDedupRegistry) Schemas() []llm.ToolSchema { return r.base.Schemas() }

// Dispatch claims the otid (if present) before delegating; agentID is
// carried via context by the Step Loop (see WithAgentID).
func (r *otidDedupRegistry) Dispatch(ctx context.Context, name string, raw json.RawMessage) ([]byte, error) {
	var a otidArgs
	_ = json.Unmarshal(raw, &a) // absent/malformed otid just means no dedup applies
	if a.Otid == "" {
		return r.base.Dispatch(ctx, name, raw)
	}

	agentID, _ := ctx.Value(agentIDKey{}).(string)
	claimed, err := r.cache.ClaimOtid(ctx, agentID, a.Otid)
	if err != nil {
		return nil, errs.New(errs.Transient, "claim otid", err)
	}
	if !claimed {
		return json.Marshal(map[string]any{"ok": true, "deduped": true})
	}
	_, _ = r.store.MarkOtidSeen(ctx, agentID, a.Otid) // best-effort audit mirror

	return r.base.Dispatch(ctx, name, raw)
}

// agentIDKey is the context key the Step Loop sets so otidDedupRegistry can
// scope dedup per agent without threading an extra parameter through the
// Registry interface.
type agentIDKey struct{}

// WithAgentID attaches the dispatching agent's id to ctx for
// otidDedupRegistry to read.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}
