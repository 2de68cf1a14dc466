package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"memoria/internal/config"
	"memoria/internal/llmclient"
	"memoria/internal/store"
)

// UsageSink records token-usage accounting (C12/§4.3) to Postgres always,
// and additionally mirrors it to ClickHouse for longitudinal analysis when
// configured.
type UsageSink struct {
	store   *store.Store
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewUsageSink builds a UsageSink. ClickHouse is only dialed when cfg.DSN is
// set; an empty DSN leaves conn nil and Record only writes to Postgres,
// matching ClickHouseConfig's "empty disables the sink" contract.
func NewUsageSink(ctx context.Context, st *store.Store, cfg config.ClickHouseConfig) (*UsageSink, error) {
	s := &UsageSink{store: st, table: cfg.Table, timeout: 5 * time.Second}
	if cfg.DSN == "" {
		return s, nil
	}
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if s.table == "" {
		s.table = "token_usage"
	}
	s.conn = conn
	return s, nil
}

// Record persists rec to Postgres (the hot-path source of truth) and
// mirrors it to ClickHouse best-effort; a failure of either write is logged,
// not returned, so token-usage bookkeeping never fails an LLM call (spec.md
// §7's failure-isolation stance extended to this ledger). Both writes run
// synchronously in the caller; the ClickHouse one is bounded by the sink's
// 5-second timeout.
func (s *UsageSink) Record(ctx context.Context, rec store.TokenUsageRecord) {
	if rec.ID == "" {
		rec.ID = store.NewItemID()
	}
	if err := s.store.RecordTokenUsage(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("token usage: postgres record failed")
	}
	if s.conn == nil {
		return
	}
	execCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := fmt.Sprintf(
		"INSERT INTO %s (id, user_id, agent_id, provider, model, prompt_tokens, output_tokens, stop_reason, created_at) VALUES (?,?,?,?,?,?,?,?,?)",
		s.table,
	)
	if err := s.conn.Exec(execCtx, query,
		rec.ID, rec.UserID, rec.AgentID, rec.Provider, rec.Model, rec.PromptTokens, rec.OutputTokens, rec.StopReason, rec.CreatedAt,
	); err != nil {
		log.Warn().Err(err).Msg("token usage: clickhouse mirror failed")
	}
}

// Close releases the ClickHouse connection, if one was opened.
func (s *UsageSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// OnUsage adapts Record into the callback shape llmclient.NewFromConfig
// expects, using a background context since the callback is not handed the
// originating request's context.
func (s *UsageSink) OnUsage(resp llmclient.Response) {
	rec := store.TokenUsageRecord{
		UserID:    resp.UserID,
		AgentID:   resp.AgentID,
		Provider:  resp.Provider,
		Model:     resp.Model,
		CreatedAt: time.Now().UTC(),
	}
	if u := resp.Message.Usage; u != nil {
		rec.PromptTokens = u.PromptTokens
		rec.OutputTokens = u.CompletionTokens
	}
	rec.StopReason = resp.Message.StopReason
	s.Record(context.Background(), rec)
}
