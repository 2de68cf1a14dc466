package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"memoria/internal/errs"
	"memoria/internal/ingest"
	"memoria/internal/memory"
	"memoria/internal/settings"
	"memoria/internal/steploop"
	"memoria/internal/store"
	"memoria/internal/streaming"
)

// defaultSimilarityThreshold is §4.5/§4.9's documented hybrid-search
// threshold default, used when a request omits similarity_threshold.
const defaultSimilarityThreshold = 0.7

func (s *Server) userOrDefault(userID string) string {
	if userID != "" {
		return userID
	}
	return s.DefaultUser
}

// handleHealth reports Store and Cache reachability (§6's `GET /health`).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok", "cache": "ok"}
	status := "ok"
	if err := s.Store.Pool.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = "degraded"
	}
	if err := s.Cache.Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": status, "timestamp": time.Now().UTC(), "checks": checks})
}

type sendMessageRequest struct {
	Message            string   `json:"message"`
	ImageURIs          []string `json:"image_uris"`
	Memorizing         bool     `json:"memorizing"`
	IsScreenMonitoring bool     `json:"is_screen_monitoring"`
	UserID             string   `json:"user_id"`
}

// captureSink records only the final reply/cancellation, the shape every
// non-streaming HTTP handler that drives the Step Loop needs.
type captureSink struct {
	final string
}

func (c *captureSink) Emit(_ context.Context, ev steploop.Event) error {
	if ev.Type == steploop.EventFinal {
		c.final = ev.Content
	}
	return nil
}

// handleSendMessage implements `POST /send_message` (§6): the response is
// always 200, with status=success even on internal agent failure — a
// sentinel response string signals the failure to the caller instead of an
// HTTP error code, per §6/§7's explicit contract for this endpoint.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"response": "ERROR_RESPONSE_FAILED", "status": "success"})
		return
	}
	userID := s.userOrDefault(req.UserID)

	chatAgent, err := s.Store.GetAgentByType(r.Context(), userID, store.AgentChat)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"response": "ERROR_RESPONSE_FAILED", "status": "success"})
		return
	}

	in := steploop.Input{
		AgentID:          chatAgent.ID,
		UserID:           userID,
		Messages:         []steploop.IncomingMessage{{Content: req.Message, ImageRefs: req.ImageURIs}},
		Memorizing:       req.Memorizing,
		ScreenMonitoring: req.IsScreenMonitoring,
	}
	sink := &captureSink{}
	_, err = s.Loop.Run(r.Context(), in, sink)
	if err != nil && !errs.Is(err, errs.Cancelled) {
		respondJSON(w, http.StatusOK, map[string]any{"response": "ERROR_RESPONSE_FAILED", "status": "success"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"response": sink.final, "status": "success"})
}

// sseWriter adapts an http.ResponseWriter/Flusher to streaming.Writer.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (sw sseWriter) WriteEvent(ev streaming.Envelope) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := sw.w.Write(raw); err != nil {
		return err
	}
	if _, err := sw.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

// handleSendStreamingMessage implements `POST /send_streaming_message`
// (§6): same request shape as /send_message, SSE response per §4.8.
func (s *Server) handleSendStreamingMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	userID := s.userOrDefault(req.UserID)

	chatAgent, err := s.Store.GetAgentByType(r.Context(), userID, store.AgentChat)
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errs.New(errs.Fatal, "streaming unsupported by this response writer", nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_ = s.Stream.Run(r.Context(), streaming.Request{
		AgentID:          chatAgent.ID,
		UserID:           userID,
		Message:          req.Message,
		ImageURIs:        req.ImageURIs,
		Memorizing:       req.Memorizing,
		ScreenMonitoring: req.IsScreenMonitoring,
	}, chatAgent, sseWriter{w: w, f: flusher})
}

type memorySearchRequest struct {
	Query               string  `json:"query"`
	SearchMethod        string  `json:"search_method"`
	SearchField         string  `json:"search_field"`
	Limit               int     `json:"limit"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	UserID              string  `json:"user_id"`
}

// handleMemorySearch implements `POST /memories/{class}/search` (§6).
// search_field is accepted for request-shape compatibility but unused: each
// class's Manager already owns its own field mapping (§4.5), so a caller
// can't redirect a search onto a different field.
func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	class, ok := classAlias[r.PathValue("class")]
	if !ok {
		respondError(w, http.StatusNotFound, errs.New(errs.NotFound, "unknown memory class", nil))
		return
	}
	var req memorySearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	userID := s.userOrDefault(req.UserID)

	var mgr memory.Manager
	if class == memory.ClassCore {
		mgr = s.Core
	} else if m, ok := s.Managers[class]; ok {
		mgr = m
	} else {
		respondError(w, http.StatusNotFound, errs.New(errs.NotFound, "memory class not configured", nil))
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = defaultSimilarityThreshold
	}
	method := memory.SearchMethod(req.SearchMethod)
	if method == "" {
		method = memory.MethodHybrid
	}

	results, err := mgr.Search(r.Context(), userID, req.Query, memory.SearchOptions{
		Method: method, Limit: limit, Threshold: threshold,
	})
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

type documentUploadRequest struct {
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
	Content     string `json:"content"`
	UserID      string `json:"user_id"`
	Description string `json:"description"`
}

// handleDocumentUpload implements `POST /documents/upload` (§6/§4.11).
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	var req documentUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	userID := s.userOrDefault(req.UserID)

	res, err := s.Ingest.Process(r.Context(), ingest.Upload{
		UserID:      userID,
		Filename:    req.FileName,
		ContentType: req.FileType,
		DataBase64:  req.Content,
	})
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"document_id":       res.ContentHash,
		"processed_content": res.Text,
	})
}

type confirmationRespondRequest struct {
	ConfirmationID string `json:"confirmation_id"`
	Confirmed      bool   `json:"confirmed"`
}

// handleConfirmationRespond implements `POST /confirmation/respond` (§6):
// resolves the ticket, persists the human's decision as the suspended tool
// call's return message, and resumes the Step Loop from there.
func (s *Server) handleConfirmationRespond(w http.ResponseWriter, r *http.Request) {
	var req confirmationRespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	ticket, err := s.Cache.ResolveConfirmationTicket(r.Context(), req.ConfirmationID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	agent, err := s.Store.GetAgent(r.Context(), ticket.AgentID)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	payload, _ := json.Marshal(map[string]any{"confirmed": req.Confirmed})
	if _, err := s.Store.AppendMessage(r.Context(), store.Message{
		AgentID: ticket.AgentID, UserID: agent.UserID, Role: store.RoleTool,
		Content: string(payload), ToolCallID: ticket.ToolCallID, ToolName: "request_confirmation",
	}); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}

	sink := &captureSink{}
	if _, err := s.Loop.Run(r.Context(), steploop.Input{AgentID: ticket.AgentID, UserID: agent.UserID}, sink); err != nil && !errs.Is(err, errs.Cancelled) {
		respondJSON(w, http.StatusOK, map[string]any{"success": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleGetScreenshotSetting / handleSetScreenshotSetting implement the
// screen-monitoring boolean toggle (§6).
func (s *Server) handleGetScreenshotSetting(w http.ResponseWriter, r *http.Request) {
	userID := s.userOrDefault(r.URL.Query().Get("user_id"))
	us, err := s.Settings.Get(r.Context(), userID)
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"screen_monitoring": us.ScreenMonitoring})
}

type screenshotSettingRequest struct {
	UserID           string `json:"user_id"`
	ScreenMonitoring bool   `json:"screen_monitoring"`
}

func (s *Server) handleSetScreenshotSetting(w http.ResponseWriter, r *http.Request) {
	var req screenshotSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	userID := s.userOrDefault(req.UserID)
	v := req.ScreenMonitoring
	us, err := s.Settings.Update(r.Context(), userID, settings.Patch{ScreenMonitoring: &v})
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"screen_monitoring": us.ScreenMonitoring})
}

// handleModelsCurrent implements `GET /models/current` (§6).
func (s *Server) handleModelsCurrent(w http.ResponseWriter, r *http.Request) {
	userID := s.userOrDefault(r.URL.Query().Get("user_id"))
	us, err := s.Settings.Get(r.Context(), userID)
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"chat_model": us.ChatModel})
}

type conversationClearRequest struct {
	UserID string `json:"user_id"`
}

// handleConversationClear implements `POST /conversation/clear` (§6):
// soft-deletes the chat agent's message history; memory items are
// untouched.
func (s *Server) handleConversationClear(w http.ResponseWriter, r *http.Request) {
	var req conversationClearRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	userID := s.userOrDefault(req.UserID)

	chatAgent, err := s.Store.GetAgentByType(r.Context(), userID, store.AgentChat)
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	if err := s.Store.ClearMessages(r.Context(), chatAgent.ID); err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

type createOrganizationRequest struct {
	Name string `json:"name"`
}

// handleCreateOrganization implements the admin-only
// `POST /admin/organizations` (§4.15): an Organization must exist before
// a User can reference it via org_id, so this gates the same RequireAdmin
// middleware as user creation.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	org, err := s.Store.CreateOrganization(r.Context(), store.Organization{Name: req.Name})
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusCreated, org)
}

type createUserRequest struct {
	Email string `json:"email"`
	OrgID string `json:"org_id"`
}

// handleCreateUser implements the admin-only `POST /admin/users` (§4.15):
// gated by auth.Verifier.RequireAdmin before this handler ever runs.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	u, err := s.Store.CreateUser(r.Context(), store.User{Email: req.Email, OrgID: req.OrgID})
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

// handleListUserAgents implements the admin-only
// `GET /admin/users/{user_id}/agents`, used to audit which Agents (and
// thus which memory namespaces) an admin is about to act on.
func (s *Server) handleListUserAgents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	list, err := s.Store.ListAgentsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, errs.Of(err).HTTPStatus(), err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
