package store

import (
	"context"

	"memoria/internal/errs"
)

// MarkOtidSeen records a tool/MCP call's otid, returning seen=true if it had
// already been recorded for this agent. This is the Postgres audit mirror
// of the otid dedup contract (§4.4/§4.9, §3's Idempotency record): the
// primary, TTL-bearing copy lives in Redis (internal/cache), and this table
// exists so a dedup decision survives an early cache eviction.
func (s *Store) MarkOtidSeen(ctx context.Context, agentID, otid string) (seen bool, err error) {
	tag, err := s.Pool.Exec(ctx, `
INSERT INTO idempotency_records(agent_id, otid, created_at) VALUES ($1,$2,now())
ON CONFLICT (agent_id, otid) DO NOTHING`, agentID, otid)
	if err != nil {
		return false, errs.New(errs.Transient, "mark otid seen", err)
	}
	return tag.RowsAffected() == 0, nil
}

// RecordTokenUsage persists one LLM call's usage for later ClickHouse flush
// (C12) and in-database auditing.
func (s *Store) RecordTokenUsage(ctx context.Context, rec TokenUsageRecord) error {
	if rec.ID == "" {
		rec.ID = newID()
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO token_usage(id, user_id, agent_id, provider, model, prompt_tokens, output_tokens, stop_reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
`, rec.ID, rec.UserID, rec.AgentID, rec.Provider, rec.Model, rec.PromptTokens, rec.OutputTokens, rec.StopReason)
	if err != nil {
		return errs.New(errs.Transient, "record token usage", err)
	}
	return nil
}
