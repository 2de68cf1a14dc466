package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"memoria/internal/errs"
)

// CreateAgent inserts a new agent record (§3/§4.6).
func (s *Store) CreateAgent(ctx context.Context, a Agent) (Agent, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	memCfg, err := json.Marshal(a.MemoryConfig)
	if err != nil {
		return Agent{}, errs.New(errs.InvalidInput, "marshal agent memory config", err)
	}
	_, err = s.Pool.Exec(ctx, `
INSERT INTO agents(id, user_id, name, type, llm_provider, llm_model, memory_config, system_prompt, persona, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
`, a.ID, a.UserID, a.Name, string(a.Type), a.LLMProvider, a.LLMModel, memCfg, a.SystemPrompt, a.Persona, a.IsActive, now)
	if err != nil {
		return Agent{}, errs.New(errs.Transient, "create agent", err)
	}
	return a, nil
}

// GetAgent fetches one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT id, user_id, name, type, llm_provider, llm_model, memory_config, system_prompt, persona, is_active, created_at, updated_at
FROM agents WHERE id=$1`, id)
	return scanAgent(row)
}

// GetAgentByType fetches the (single, per §4.6) agent of a given type for a
// user. Chat-agent lookup and per-class memory-manager lookup both go
// through this.
func (s *Store) GetAgentByType(ctx context.Context, userID string, t AgentType) (Agent, error) {
	row := s.Pool.QueryRow(ctx, `
SELECT id, user_id, name, type, llm_provider, llm_model, memory_config, system_prompt, persona, is_active, created_at, updated_at
FROM agents WHERE user_id=$1 AND type=$2 AND is_active=true LIMIT 1`, userID, string(t))
	return scanAgent(row)
}

// ListAgentsByUser returns every agent configured for a user.
func (s *Store) ListAgentsByUser(ctx context.Context, userID string) ([]Agent, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, user_id, name, type, llm_provider, llm_model, memory_config, system_prompt, persona, is_active, created_at, updated_at
FROM agents WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, errs.New(errs.Transient, "list agents", err)
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAgent replaces an agent's mutable fields (system prompt, persona,
// llm selection, memory config, active flag).
func (s *Store) UpdateAgent(ctx context.Context, a Agent) error {
	memCfg, err := json.Marshal(a.MemoryConfig)
	if err != nil {
		return errs.New(errs.InvalidInput, "marshal agent memory config", err)
	}
	tag, err := s.Pool.Exec(ctx, `
UPDATE agents SET name=$2, llm_provider=$3, llm_model=$4, memory_config=$5, system_prompt=$6, persona=$7, is_active=$8, updated_at=now()
WHERE id=$1`, a.ID, a.Name, a.LLMProvider, a.LLMModel, memCfg, a.SystemPrompt, a.Persona, a.IsActive)
	if err != nil {
		return errs.New(errs.Transient, "update agent", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "agent "+a.ID, nil)
	}
	return nil
}

func scanAgent(row rowScanner) (Agent, error) {
	var a Agent
	var typ string
	var memCfg []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &typ, &a.LLMProvider, &a.LLMModel, &memCfg, &a.SystemPrompt, &a.Persona, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return Agent{}, errs.New(errs.NotFound, "agent", err)
		}
		return Agent{}, errs.New(errs.Transient, "scan agent", err)
	}
	a.Type = AgentType(typ)
	a.MemoryConfig = map[string]any{}
	if len(memCfg) > 0 {
		if err := json.Unmarshal(memCfg, &a.MemoryConfig); err != nil {
			return Agent{}, errs.New(errs.Fatal, "unmarshal agent memory config", err)
		}
	}
	return a, nil
}
