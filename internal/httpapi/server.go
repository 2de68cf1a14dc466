// Package httpapi implements the request/response HTTP surface (§6): health,
// non-streaming and streaming chat, memory search, document upload,
// confirmation resolution, settings toggles, and conversation clearing.
package httpapi

import (
	"net/http"

	"memoria/internal/auth"
	"memoria/internal/cache"
	"memoria/internal/ingest"
	"memoria/internal/memory"
	"memoria/internal/settings"
	"memoria/internal/steploop"
	"memoria/internal/store"
	"memoria/internal/streaming"
)

// Deps is every dependency the HTTP surface needs.
type Deps struct {
	Store       *store.Store
	Cache       *cache.Cache
	Loop        *steploop.Loop
	Stream      *streaming.Dispatcher
	Settings    *settings.Service
	Ingest      *ingest.Preprocessor
	Managers    map[memory.Class]memory.Manager
	Core        *memory.CoreManager
	Auth        *auth.Verifier
	DefaultUser string
}

// Server exposes the §6 HTTP surface.
type Server struct {
	Deps
	mux *http.ServeMux
}

// NewServer builds the HTTP API server and registers every route.
func NewServer(d Deps) *Server {
	s := &Server{Deps: d, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /send_message", s.handleSendMessage)
	s.mux.HandleFunc("POST /send_streaming_message", s.handleSendStreamingMessage)
	s.mux.HandleFunc("POST /memories/{class}/search", s.handleMemorySearch)
	s.mux.HandleFunc("POST /documents/upload", s.handleDocumentUpload)
	s.mux.HandleFunc("POST /confirmation/respond", s.handleConfirmationRespond)
	s.mux.HandleFunc("GET /screenshot_setting", s.handleGetScreenshotSetting)
	s.mux.HandleFunc("POST /screenshot_setting/set", s.handleSetScreenshotSetting)
	s.mux.HandleFunc("GET /models/current", s.handleModelsCurrent)
	s.mux.HandleFunc("POST /conversation/clear", s.handleConversationClear)
	s.mux.HandleFunc("POST /admin/organizations", s.Auth.RequireAdmin(s.handleCreateOrganization))
	s.mux.HandleFunc("POST /admin/users", s.Auth.RequireAdmin(s.handleCreateUser))
	s.mux.HandleFunc("GET /admin/users/{user_id}/agents", s.Auth.RequireAdmin(s.handleListUserAgents))
}

// classAlias maps the external memory-class path segments (§6) to the
// internal memory.Class values; "credentials" is the external name for the
// Knowledge Vault class, since it holds secrets.
var classAlias = map[string]memory.Class{
	"episodic":    memory.ClassEpisodic,
	"semantic":    memory.ClassSemantic,
	"procedural":  memory.ClassProcedural,
	"resource":    memory.ClassResource,
	"core":        memory.ClassCore,
	"credentials": memory.ClassKnowledgeVault,
}
