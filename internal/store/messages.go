package store

import (
	"context"
	"time"

	"memoria/internal/errs"
)

// AppendMessage persists one conversation turn (§4.7 step loop persistence).
func (s *Store) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	m.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `
INSERT INTO messages(id, agent_id, user_id, role, content, tool_call_id, tool_name, image_refs, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, m.ID, m.AgentID, m.UserID, string(m.Role), m.Content, m.ToolCallID, m.ToolName, m.ImageRefs, m.CreatedAt)
	if err != nil {
		return Message{}, errs.New(errs.Transient, "append message", err)
	}
	return m, nil
}

// RecentMessages returns the last limit messages for an agent, oldest first,
// the shape the Step Loop and chat-agent prompt assembly consume (§4.6/§4.7).
func (s *Store) RecentMessages(ctx context.Context, agentID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT id, agent_id, user_id, role, content, tool_call_id, tool_name, image_refs, created_at
FROM (
  SELECT * FROM messages WHERE agent_id=$1 AND deleted_at IS NULL ORDER BY created_at DESC LIMIT $2
) recent ORDER BY created_at ASC`, agentID, limit)
	if err != nil {
		return nil, errs.New(errs.Transient, "list recent messages", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &role, &m.Content, &m.ToolCallID, &m.ToolName, &m.ImageRefs, &m.CreatedAt); err != nil {
			return nil, errs.New(errs.Transient, "scan message", err)
		}
		m.Role = MessageRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearMessages soft-deletes every message for an agent (`POST
// /conversation/clear`, §6): memory items are untouched, only the raw
// conversation transcript is cleared.
func (s *Store) ClearMessages(ctx context.Context, agentID string) error {
	if _, err := s.Pool.Exec(ctx, `UPDATE messages SET deleted_at=now() WHERE agent_id=$1 AND deleted_at IS NULL`, agentID); err != nil {
		return errs.New(errs.Transient, "clear messages", err)
	}
	return nil
}
