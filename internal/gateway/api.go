// ABOUTME: HTTP API handlers for asking questions, help requests, and the knowledge base
// ABOUTME: Maps service sentinels to status codes and renders JSON responses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/engine"
	"github.com/2389/frontdesk-gateway/internal/escalation"
	"github.com/2389/frontdesk-gateway/internal/knowledge"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// AskRequest is the JSON request body for POST /api/ask.
type AskRequest struct {
	Question  string         `json:"question"`
	SessionID string         `json:"session_id,omitempty"`
	TrackID   string         `json:"track_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CreateHelpRequestRequest is the JSON request body for POST /help-requests.
type CreateHelpRequestRequest struct {
	Question      string              `json:"question"`
	CallerDetails store.CallerContext `json:"caller_details"`
}

// ResolveRequest is the JSON request body for PUT /help-requests/{id}/resolve.
// ResolvedBy is ignored when the caller presented a token.
type ResolveRequest struct {
	Response   string `json:"response"`
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// KnowledgeEntryRequest is the JSON request body for creating or editing an entry.
// The bookkeeping fields apply to new learned entries only. Confidence is
// required for learned entries; predefined entries are always 1.0.
type KnowledgeEntryRequest struct {
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	Confidence      *float64 `json:"confidence"`
	Verified        bool     `json:"verified,omitempty"`
	TimesUsed       int      `json:"times_used,omitempty"`
	SuccessRate     *float64 `json:"success_rate,omitempty"`
	SourceRequestID string   `json:"source_request_id,omitempty"`
	SupervisorID    string   `json:"supervisor_id,omitempty"`
}

// FeedbackRequest is the JSON request body for POST /knowledge-base/learned/{id}/feedback.
type FeedbackRequest struct {
	Helpful bool `json:"helpful"`
}

// KnowledgeEntryResponse is the JSON view of a knowledge entry.
type KnowledgeEntryResponse struct {
	ID              string  `json:"id"`
	Tier            string  `json:"tier"`
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	Confidence      float64 `json:"confidence"`
	Verified        bool    `json:"verified"`
	TimesUsed       int     `json:"times_used"`
	SuccessRate     float64 `json:"success_rate"`
	SourceRequestID string  `json:"source_request_id,omitempty"`
	SupervisorID    string  `json:"supervisor_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func newKnowledgeEntryResponse(e *store.KnowledgeEntry) KnowledgeEntryResponse {
	return KnowledgeEntryResponse{
		ID:              e.ID,
		Tier:            string(e.Tier),
		Question:        e.Question,
		Answer:          e.Answer,
		Confidence:      e.Confidence,
		Verified:        e.Verified,
		TimesUsed:       e.TimesUsed,
		SuccessRate:     e.SuccessRate,
		SourceRequestID: e.SourceRequestID,
		SupervisorID:    e.SupervisorID,
		CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// registerRoutes registers the public API on mux. Supervisor routes require
// the supervisor role; the voice agent's routes accept agent or supervisor.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	supervisor := g.guard.Require(auth.RoleSupervisor)
	caller := g.guard.Require(auth.RoleAgent, auth.RoleSupervisor)
	limited := func(h http.HandlerFunc) http.Handler { return g.limiter.Middleware(h) }

	mux.Handle("GET /{$}", limited(g.handleRoot))
	mux.Handle("POST /api/ask", caller(limited(g.handleAsk)))
	mux.Handle("POST /api/sessions/{id}/end", caller(http.HandlerFunc(g.handleEndSession)))

	mux.Handle("POST /help-requests", caller(http.HandlerFunc(g.handleCreateHelpRequest)))
	mux.Handle("GET /help-requests", supervisor(http.HandlerFunc(g.handleListHelpRequests)))
	mux.Handle("GET /help-requests/{id}", supervisor(http.HandlerFunc(g.handleGetHelpRequest)))
	mux.Handle("PUT /help-requests/{id}/resolve", supervisor(http.HandlerFunc(g.handleResolveHelpRequest)))

	mux.Handle("GET /knowledge-base/{tier}", supervisor(http.HandlerFunc(g.handleListKnowledge)))
	mux.Handle("POST /knowledge-base/{tier}", supervisor(http.HandlerFunc(g.handleCreateKnowledge)))
	mux.Handle("GET /knowledge-base/{tier}/{id}", supervisor(http.HandlerFunc(g.handleGetKnowledge)))
	mux.Handle("PUT /knowledge-base/{tier}/{id}", supervisor(http.HandlerFunc(g.handleUpdateKnowledge)))
	mux.Handle("DELETE /knowledge-base/{tier}/{id}", supervisor(http.HandlerFunc(g.handleDeleteKnowledge)))
	mux.Handle("PUT /knowledge-base/learned/{id}/verify", supervisor(http.HandlerFunc(g.handleVerifyKnowledge)))
	mux.Handle("POST /knowledge-base/learned/{id}/feedback", caller(http.HandlerFunc(g.handleKnowledgeFeedback)))

	mux.Handle("GET /audit", supervisor(http.HandlerFunc(g.handleListAudit)))

	mux.Handle("GET /ws", g.guard.AllowQueryToken().Require(auth.RoleSupervisor, auth.RoleAgent)(http.HandlerFunc(g.handleWebSocket)))
	mux.HandleFunc("POST /webhook/livekit", g.handleLiveKitWebhook)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			g.sendJSONError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// errorStatus maps a service error to an HTTP status and client-facing message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicateKey):
		return http.StatusConflict, "question already exists in this tier"
	case errors.Is(err, store.ErrAlreadyResolved):
		return http.StatusConflict, "help request already resolved"
	case errors.Is(err, knowledge.ErrInvalidEntry),
		errors.Is(err, escalation.ErrEmptyQuestion),
		errors.Is(err, escalation.ErrEmptyResponse),
		errors.Is(err, engine.ErrEmptyQuestion):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, store.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// sendServiceError logs unexpected failures and writes the mapped status.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error(op+" failed", "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// pathTier parses the {tier} path segment, writing a 400 when it is unknown.
func (g *Gateway) pathTier(w http.ResponseWriter, r *http.Request) (store.Tier, bool) {
	tier, ok := store.ParseTier(r.PathValue("tier"))
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "tier must be predefined or learned")
	}
	return tier, ok
}

// requestConfidence resolves a request's confidence for tier, writing a 422
// when a learned entry omits it.
func (g *Gateway) requestConfidence(w http.ResponseWriter, tier store.Tier, c *float64) (float64, bool) {
	if c != nil {
		return *c, true
	}
	if tier == store.TierPredefined {
		return 1.0, true
	}
	g.sendJSONError(w, http.StatusUnprocessableEntity, "confidence is required for learned entries")
	return 0, false
}

// handleRoot handles GET /.
func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"message": "Front desk receptionist gateway"})
}

// handleAsk handles POST /api/ask. A failed escalation still returns the
// fallback utterance so the voice agent has something to say.
func (g *Gateway) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	out, err := g.engine.Ask(r.Context(), req.Question, store.CallerContext{
		SessionID: req.SessionID,
		TrackID:   req.TrackID,
		Timestamp: time.Now().UTC(),
		Metadata:  req.Metadata,
	})
	switch {
	case err == nil:
		g.sendJSON(w, http.StatusOK, out)
	case out.Kind == engine.KindFailed:
		g.sendJSON(w, http.StatusServiceUnavailable, out)
	default:
		g.sendServiceError(w, "ask", err)
	}
}

// handleEndSession handles POST /api/sessions/{id}/end.
func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ended := g.engine.EndSession(r.PathValue("id"))
	g.sendJSON(w, http.StatusOK, map[string]bool{"ended": ended})
}

// handleCreateHelpRequest handles POST /help-requests. The request is
// announced to supervisors before the response is written.
func (g *Gateway) handleCreateHelpRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateHelpRequestRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	hr, err := g.registry.Create(r.Context(), req.Question, req.CallerDetails)
	if err != nil {
		g.sendServiceError(w, "create help request", err)
		return
	}
	if err := g.notifier.Broadcast(r.Context(), notify.NewRequestEvent(hr)); err != nil {
		g.logger.Warn("failed to broadcast new request", "request_id", hr.ID, "error", err)
	}
	g.metrics.Escalated()

	g.sendJSON(w, http.StatusCreated, notify.NewHelpRequestPayload(hr))
}

// handleListHelpRequests handles GET /help-requests?status=.
func (g *Gateway) handleListHelpRequests(w http.ResponseWriter, r *http.Request) {
	status := store.HelpRequestStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", store.HelpRequestPending, store.HelpRequestResolved:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "status must be pending or resolved")
		return
	}

	reqs, err := g.registry.List(r.Context(), status)
	if err != nil {
		g.sendServiceError(w, "list help requests", err)
		return
	}

	out := make([]notify.HelpRequestPayload, len(reqs))
	for i, hr := range reqs {
		out[i] = notify.NewHelpRequestPayload(hr)
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleGetHelpRequest handles GET /help-requests/{id}.
func (g *Gateway) handleGetHelpRequest(w http.ResponseWriter, r *http.Request) {
	hr, err := g.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "get help request", err)
		return
	}
	g.sendJSON(w, http.StatusOK, notify.NewHelpRequestPayload(hr))
}

// handleResolveHelpRequest handles PUT /help-requests/{id}/resolve.
func (g *Gateway) handleResolveHelpRequest(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	resolvedBy := req.ResolvedBy
	if id := auth.FromContext(r.Context()); id != nil {
		resolvedBy = id.Subject
	}

	hr, err := g.engine.Resolve(r.Context(), r.PathValue("id"), req.Response, resolvedBy)
	if err != nil {
		g.sendServiceError(w, "resolve help request", err)
		return
	}
	g.recordAudit(r.Context(), resolvedBy, store.AuditResolveHelpRequest, store.AuditTargetHelpRequest, hr.ID,
		map[string]any{"response": hr.SupervisorResponse, "via": "http"})
	g.sendJSON(w, http.StatusOK, notify.NewHelpRequestPayload(hr))
}

// handleListKnowledge handles GET /knowledge-base/{tier}?query=.
func (g *Gateway) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	tier, ok := g.pathTier(w, r)
	if !ok {
		return
	}

	entries, err := g.knowledge.List(r.Context(), tier, r.URL.Query().Get("query"))
	if err != nil {
		g.sendServiceError(w, "list knowledge", err)
		return
	}

	out := make([]KnowledgeEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = newKnowledgeEntryResponse(e)
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleCreateKnowledge handles POST /knowledge-base/{tier}.
func (g *Gateway) handleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	tier, ok := g.pathTier(w, r)
	if !ok {
		return
	}
	var req KnowledgeEntryRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	confidence, ok := g.requestConfidence(w, tier, req.Confidence)
	if !ok {
		return
	}

	entry := store.KnowledgeEntry{
		Question:        req.Question,
		Answer:          req.Answer,
		Confidence:      confidence,
		Verified:        req.Verified,
		TimesUsed:       req.TimesUsed,
		SuccessRate:     1.0,
		SourceRequestID: req.SourceRequestID,
		SupervisorID:    req.SupervisorID,
	}
	if req.SuccessRate != nil {
		entry.SuccessRate = *req.SuccessRate
	}

	id, err := g.knowledge.Insert(r.Context(), tier, entry)
	if err != nil {
		g.sendServiceError(w, "create knowledge", err)
		return
	}

	g.recordAudit(r.Context(), actorFrom(r.Context(), req.SupervisorID), store.AuditCreateKnowledge, store.AuditTargetKnowledge, id,
		map[string]any{"tier": string(tier)})

	created, err := g.knowledge.Get(r.Context(), tier, id)
	if err != nil {
		g.sendServiceError(w, "get knowledge", err)
		return
	}
	g.sendJSON(w, http.StatusCreated, newKnowledgeEntryResponse(created))
}

// handleGetKnowledge handles GET /knowledge-base/{tier}/{id}.
func (g *Gateway) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	tier, ok := g.pathTier(w, r)
	if !ok {
		return
	}
	e, err := g.knowledge.Get(r.Context(), tier, r.PathValue("id"))
	if err != nil {
		g.sendServiceError(w, "get knowledge", err)
		return
	}
	g.sendJSON(w, http.StatusOK, newKnowledgeEntryResponse(e))
}

// handleUpdateKnowledge handles PUT /knowledge-base/{tier}/{id}.
func (g *Gateway) handleUpdateKnowledge(w http.ResponseWriter, r *http.Request) {
	tier, ok := g.pathTier(w, r)
	if !ok {
		return
	}
	var req KnowledgeEntryRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	confidence, ok := g.requestConfidence(w, tier, req.Confidence)
	if !ok {
		return
	}

	id := r.PathValue("id")
	err := g.knowledge.UpdateContent(r.Context(), tier, id, store.ContentUpdate{
		Question:   req.Question,
		Answer:     req.Answer,
		Confidence: confidence,
	})
	if err != nil {
		g.sendServiceError(w, "update knowledge", err)
		return
	}
	g.recordAudit(r.Context(), actorFrom(r.Context(), req.SupervisorID), store.AuditUpdateKnowledge, store.AuditTargetKnowledge, id,
		map[string]any{"tier": string(tier)})

	e, err := g.knowledge.Get(r.Context(), tier, id)
	if err != nil {
		g.sendServiceError(w, "get knowledge", err)
		return
	}
	g.sendJSON(w, http.StatusOK, newKnowledgeEntryResponse(e))
}

// handleDeleteKnowledge handles DELETE /knowledge-base/{tier}/{id}.
func (g *Gateway) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	tier, ok := g.pathTier(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := g.knowledge.Delete(r.Context(), tier, id); err != nil {
		g.sendServiceError(w, "delete knowledge", err)
		return
	}
	g.recordAudit(r.Context(), actorFrom(r.Context(), ""), store.AuditDeleteKnowledge, store.AuditTargetKnowledge, id,
		map[string]any{"tier": string(tier)})
	w.WriteHeader(http.StatusNoContent)
}

// handleVerifyKnowledge handles PUT /knowledge-base/learned/{id}/verify?verified=.
// A missing parameter means verified=true.
func (g *Gateway) handleVerifyKnowledge(w http.ResponseWriter, r *http.Request) {
	verified := true
	if raw := r.URL.Query().Get("verified"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "verified must be true or false")
			return
		}
		verified = v
	}

	id := r.PathValue("id")
	if err := g.knowledge.MarkVerified(r.Context(), store.TierLearned, id, verified); err != nil {
		g.sendServiceError(w, "verify knowledge", err)
		return
	}
	g.recordAudit(r.Context(), actorFrom(r.Context(), ""), store.AuditVerifyKnowledge, store.AuditTargetKnowledge, id,
		map[string]any{"verified": verified})

	e, err := g.knowledge.Get(r.Context(), store.TierLearned, id)
	if err != nil {
		g.sendServiceError(w, "get knowledge", err)
		return
	}
	g.sendJSON(w, http.StatusOK, newKnowledgeEntryResponse(e))
}

// handleKnowledgeFeedback handles POST /knowledge-base/learned/{id}/feedback.
func (g *Gateway) handleKnowledgeFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	e, err := g.knowledge.RecordFeedback(r.Context(), r.PathValue("id"), req.Helpful)
	if err != nil {
		g.sendServiceError(w, "record feedback", err)
		return
	}
	g.sendJSON(w, http.StatusOK, newKnowledgeEntryResponse(e))
}
