package store

import "time"

// User is an account in the system. Every memory item, agent, message and
// setting is scoped to exactly one UserID.
type User struct {
	ID        string
	OrgID     string
	Email     string
	CreatedAt time.Time
}

// Organization groups users for multi-tenant deployments. Memory isolation
// is still enforced at the user level (§5); Organization exists for
// admin-path bookkeeping only.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// AgentType enumerates the agent roles from §3/§4.6. Every user has exactly
// one chat agent and one of each memory-class agent; meta/reflexion/
// background are process-wide or lazily created per user.
type AgentType string

const (
	AgentChat              AgentType = "chat"
	AgentCoreMemory        AgentType = "core_memory"
	AgentEpisodicMemory    AgentType = "episodic_memory"
	AgentSemanticMemory    AgentType = "semantic_memory"
	AgentProceduralMemory  AgentType = "procedural_memory"
	AgentResourceMemory    AgentType = "resource_memory"
	AgentKnowledgeVault    AgentType = "knowledge_vault"
	AgentMeta              AgentType = "meta"
	AgentReflexion         AgentType = "reflexion"
	AgentBackground        AgentType = "background"
)

// Agent is one configured agent instance (§3).
type Agent struct {
	ID            string
	UserID        string
	Name          string
	Type          AgentType
	LLMProvider   string // openai|anthropic|google|deepseek; empty defers to process default
	LLMModel      string // empty defers to the provider's configured default model
	MemoryConfig  map[string]any
	SystemPrompt  string
	Persona       string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MessageRole mirrors llm.Message's role vocabulary so Store rows round-trip
// directly into Provider calls without translation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message is one persisted turn in an agent's conversation history.
type Message struct {
	ID         string
	AgentID    string
	UserID     string
	Role       MessageRole
	Content    string
	ToolCallID string
	ToolName   string
	ImageRefs  []string
	CreatedAt  time.Time
}

// UserSettings holds the lazily-created, 5-minute-cached per-user defaults
// (§4.10): model selection and persona.
type UserSettings struct {
	UserID         string
	ChatModel      string
	MemoryModel    string
	Persona        string
	ScreenMonitoring bool
	UpdatedAt      time.Time
}

// MemoryItem is the generic row shape backing all six memory classes
// (§4.5): class-specific fields (content, concept+details, summary+steps,
// caption+payload, ...) live in Fields, keyed by the exact field names the
// field-mapping table in §4.5 names, so a Memory Manager can marshal/
// unmarshal its own view without the Store needing six distinct tables —
// the same single-table-plus-class-column shape already used by
// memory_vectors and memory_documents.
type MemoryItem struct {
	ID         string
	UserID     string
	Class      string // core|episodic|semantic|procedural|resource|knowledge_vault
	Fields     map[string]any
	Importance float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IdempotencyRecord backs the otid dedup contract (§4.4, §4.9): a tool call
// or MCP call carrying an otid already seen for its agent is a no-op repeat.
type IdempotencyRecord struct {
	AgentID   string
	Otid      string
	CreatedAt time.Time
}

// TokenUsageRecord is one LLM Client call's usage, optionally flushed to
// ClickHouse for longitudinal analysis (C12).
type TokenUsageRecord struct {
	ID           string
	UserID       string
	AgentID      string
	Provider     string
	Model        string
	PromptTokens int
	OutputTokens int
	StopReason   string
	CreatedAt    time.Time
}

// ConfirmationTicket backs request_confirmation suspension (§4.7): the Step
// Loop persists one of these and suspends until /confirmation/respond
// resolves it or it expires.
type ConfirmationTicket struct {
	ID        string
	AgentID   string
	ToolCallID string
	Prompt    string
	ExpiresAt time.Time
}
