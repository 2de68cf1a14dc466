package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// bootstrapRelationalSchema creates every table the Store's entity CRUD and
// transactional contract (§4.1) depend on. It runs alongside
// NewPgVectorIndex/NewPgLexicalIndex's own bootstraps, on the same pool, so a
// fresh database comes up ready after a single Open call.
func bootstrapRelationalSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
		  id TEXT PRIMARY KEY,
		  name TEXT NOT NULL,
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
		  id TEXT PRIMARY KEY,
		  org_id TEXT NOT NULL DEFAULT '',
		  email TEXT NOT NULL DEFAULT '',
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
		  id TEXT PRIMARY KEY,
		  user_id TEXT NOT NULL,
		  name TEXT NOT NULL,
		  type TEXT NOT NULL,
		  llm_provider TEXT NOT NULL DEFAULT '',
		  llm_model TEXT NOT NULL DEFAULT '',
		  memory_config JSONB NOT NULL DEFAULT '{}'::jsonb,
		  system_prompt TEXT NOT NULL DEFAULT '',
		  persona TEXT NOT NULL DEFAULT '',
		  is_active BOOLEAN NOT NULL DEFAULT true,
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS agents_user_type_idx ON agents(user_id, type)`,
		`CREATE TABLE IF NOT EXISTS messages (
		  id TEXT PRIMARY KEY,
		  agent_id TEXT NOT NULL,
		  user_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL DEFAULT '',
		  tool_call_id TEXT NOT NULL DEFAULT '',
		  tool_name TEXT NOT NULL DEFAULT '',
		  image_refs TEXT[] NOT NULL DEFAULT '{}',
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		  deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS messages_agent_created_idx ON messages(agent_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS user_settings (
		  user_id TEXT PRIMARY KEY,
		  chat_model TEXT NOT NULL,
		  memory_model TEXT NOT NULL,
		  persona TEXT NOT NULL DEFAULT '',
		  screen_monitoring BOOLEAN NOT NULL DEFAULT false,
		  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS memory_items (
		  id TEXT PRIMARY KEY,
		  user_id TEXT NOT NULL,
		  class TEXT NOT NULL,
		  fields JSONB NOT NULL DEFAULT '{}'::jsonb,
		  importance DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		  deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS memory_items_user_class_idx ON memory_items(user_id, class) WHERE deleted_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
		  agent_id TEXT NOT NULL,
		  otid TEXT NOT NULL,
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		  PRIMARY KEY (agent_id, otid)
		)`,
		`CREATE TABLE IF NOT EXISTS user_embedding_dims (
		  user_id TEXT PRIMARY KEY,
		  d_model INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS token_usage (
		  id TEXT PRIMARY KEY,
		  user_id TEXT NOT NULL,
		  agent_id TEXT NOT NULL,
		  provider TEXT NOT NULL,
		  model TEXT NOT NULL,
		  prompt_tokens INT NOT NULL DEFAULT 0,
		  output_tokens INT NOT NULL DEFAULT 0,
		  stop_reason TEXT NOT NULL DEFAULT '',
		  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("bootstrap relational schema: %w", err)
		}
	}
	return nil
}
