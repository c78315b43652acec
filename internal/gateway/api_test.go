// ABOUTME: Tests for the HTTP API handlers and their error mapping
// ABOUTME: Requests go through the real mux, guard, and rate limiter

package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/frontdesk-gateway/internal/auth"
	"github.com/2389/frontdesk-gateway/internal/engine"
	"github.com/2389/frontdesk-gateway/internal/escalation"
	"github.com/2389/frontdesk-gateway/internal/knowledge"
	"github.com/2389/frontdesk-gateway/internal/llm"
	"github.com/2389/frontdesk-gateway/internal/notify"
	"github.com/2389/frontdesk-gateway/internal/store"
)

func confidence(v float64) *float64 { return &v }

func seedPredefined(t *testing.T, gw *Gateway, question, answer string) string {
	t.Helper()
	id, err := gw.knowledge.Insert(context.Background(), store.TierPredefined, store.KnowledgeEntry{
		Question: question,
		Answer:   answer,
	})
	require.NoError(t, err)
	return id
}

func TestRoot(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Front desk receptionist gateway"}`, rec.Body.String())

	rec = do(t, gw, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAsk_PredefinedAnswer(t *testing.T) {
	model := &fakeLLM{answer: "should not be used"}
	gw, _ := newTestGateway(t, testOptions{model: model})
	seedPredefined(t, gw, "What are your hours?", "We are open 9 to 5.")

	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "what are   your HOURS?", SessionID: "room-1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody[engine.Outcome](t, rec)
	assert.Equal(t, engine.KindAnswered, out.Kind)
	assert.Equal(t, engine.SourcePredefined, out.Source)
	assert.Equal(t, "We are open 9 to 5.", out.Text)
	assert.Equal(t, 0, model.calls)
}

func TestAsk_LLMAnswer(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{model: &fakeLLM{answer: "Yes, we have parking out back."}})

	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Is there parking?"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody[engine.Outcome](t, rec)
	assert.Equal(t, engine.KindAnswered, out.Kind)
	assert.Equal(t, engine.SourceLLM, out.Source)
}

func TestAsk_EscalatesAndRecordsRequest(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{model: &fakeLLM{answer: llm.NoAnswer}})

	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Do you do balayage?", TrackID: "TR_1"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	out := decodeBody[engine.Outcome](t, rec)
	assert.Equal(t, engine.KindEscalated, out.Kind)
	assert.Equal(t, engine.EscalationUtterance, out.Text)
	require.NotEmpty(t, out.RequestID)

	rec = do(t, gw, http.MethodGet, "/help-requests/"+out.RequestID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	hr := decodeBody[notify.HelpRequestPayload](t, rec)
	assert.Equal(t, "Do you do balayage?", hr.Question)
	assert.Equal(t, "pending", hr.Status)
	assert.Equal(t, "TR_1", hr.CallerDetails.TrackID)
}

func TestAsk_EscalationFailureReturnsFallback(t *testing.T) {
	gw, ms := newTestGateway(t, testOptions{})
	ms.FailCreateRequest = errors.New("database is locked")

	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Can I bring my dog?"}, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	out := decodeBody[engine.Outcome](t, rec)
	assert.Equal(t, engine.KindFailed, out.Kind)
	assert.Equal(t, engine.FallbackUtterance, out.Text)
}

func TestAsk_BadRequests(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "   "}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, gw, http.MethodPost, "/api/ask", "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rec.Body.String())

	rec = do(t, gw, http.MethodPost, "/api/ask", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodGet, "/api/ask", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEndSession(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{model: &fakeLLM{answer: "Sure."}})

	rec := do(t, gw, http.MethodPost, "/api/sessions/room-9/end", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ended":false}`, rec.Body.String())

	do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Can I book?", SessionID: "room-9"}, "")

	rec = do(t, gw, http.MethodPost, "/api/sessions/room-9/end", nil, "")
	assert.JSONEq(t, `{"ended":true}`, rec.Body.String())
}

func TestHelpRequests_CreateListResolve(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodPost, "/help-requests", CreateHelpRequestRequest{
		Question:      "Do you have vegan products?",
		CallerDetails: store.CallerContext{SessionID: "room-2"},
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[notify.HelpRequestPayload](t, rec)
	assert.Equal(t, "pending", created.Status)

	rec = do(t, gw, http.MethodGet, "/help-requests?status=pending", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]notify.HelpRequestPayload](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, created.ID, pending[0].ID)

	rec = do(t, gw, http.MethodPut, "/help-requests/"+created.ID+"/resolve", ResolveRequest{
		Response:   "Yes, our whole color line is vegan.",
		ResolvedBy: "maria",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeBody[notify.HelpRequestPayload](t, rec)
	assert.Equal(t, "resolved", resolved.Status)
	assert.Equal(t, "maria", resolved.ResolvedBy)
	assert.NotEmpty(t, resolved.ResolvedAt)

	rec = do(t, gw, http.MethodGet, "/help-requests?status=pending", nil, "")
	assert.JSONEq(t, `[]`, rec.Body.String())

	// The answer was learned
	rec = do(t, gw, http.MethodGet, "/knowledge-base/learned?query=vegan", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	learned := decodeBody[[]KnowledgeEntryResponse](t, rec)
	require.Len(t, learned, 1)
	assert.Equal(t, created.ID, learned[0].SourceRequestID)
	assert.Equal(t, "maria", learned[0].SupervisorID)
	assert.False(t, learned[0].Verified)

	// Second resolution is rejected
	rec = do(t, gw, http.MethodPut, "/help-requests/"+created.ID+"/resolve", ResolveRequest{Response: "No."}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"help request already resolved"}`, rec.Body.String())
}

func TestHelpRequests_Errors(t *testing.T) {
	gw, ms := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodGet, "/help-requests/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, gw, http.MethodPut, "/help-requests/missing/resolve", ResolveRequest{Response: "hi"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, gw, http.MethodGet, "/help-requests?status=archived", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, "/help-requests", CreateHelpRequestRequest{}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"`+escalation.ErrEmptyQuestion.Error()+`"}`, rec.Body.String())

	req, err := gw.registry.Create(context.Background(), "Late fee?", store.CallerContext{})
	require.NoError(t, err)
	rec = do(t, gw, http.MethodPut, "/help-requests/"+req.ID+"/resolve", ResolveRequest{Response: "  "}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	ms.FailResolve = errors.New("disk I/O error")
	rec = do(t, gw, http.MethodPut, "/help-requests/"+req.ID+"/resolve", ResolveRequest{Response: "None"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestKnowledgeBase_CRUD(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodPost, "/knowledge-base/predefined", KnowledgeEntryRequest{
		Question:   "Where are you located?",
		Answer:     "123 Main Street.",
		Confidence: confidence(0.3),
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decodeBody[KnowledgeEntryResponse](t, rec)
	assert.Equal(t, "predefined", entry.Tier)
	assert.Equal(t, 1.0, entry.Confidence, "predefined entries are always fully trusted")
	assert.True(t, entry.Verified)

	rec = do(t, gw, http.MethodPost, "/knowledge-base/predefined", KnowledgeEntryRequest{
		Question: "where are you LOCATED?",
		Answer:   "Elsewhere.",
	}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, gw, http.MethodGet, "/knowledge-base/predefined?query=locat", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]KnowledgeEntryResponse](t, rec), 1)

	rec = do(t, gw, http.MethodPut, "/knowledge-base/predefined/"+entry.ID, KnowledgeEntryRequest{
		Question: "Where are you located?",
		Answer:   "456 Oak Avenue.",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "456 Oak Avenue.", decodeBody[KnowledgeEntryResponse](t, rec).Answer)

	rec = do(t, gw, http.MethodGet, "/knowledge-base/predefined/"+entry.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, gw, http.MethodDelete, "/knowledge-base/predefined/"+entry.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, gw, http.MethodGet, "/knowledge-base/predefined/"+entry.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKnowledgeBase_Validation(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodGet, "/knowledge-base/archive", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, "/knowledge-base/learned", KnowledgeEntryRequest{Question: "Q?", Answer: "", Confidence: confidence(0.9)}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rate := 1.5
	rec = do(t, gw, http.MethodPost, "/knowledge-base/learned", KnowledgeEntryRequest{
		Question: "Q?", Answer: "A.", Confidence: confidence(0.9), SuccessRate: &rate,
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/missing", KnowledgeEntryRequest{Question: "Q?", Answer: "A.", Confidence: confidence(0.9)}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKnowledgeBase_LearnedRequiresConfidence(t *testing.T) {
	gw, ms := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodPost, "/knowledge-base/learned", map[string]any{
		"question": "Do you validate parking?",
		"answer":   "Yes, bring your ticket to the desk.",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decodeBody[map[string]string](t, rec)["error"], "confidence")

	entries, err := ms.ListKnowledgeEntries(t.Context(), store.TierLearned, "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec = do(t, gw, http.MethodPost, "/knowledge-base/learned", KnowledgeEntryRequest{
		Question:   "Do you validate parking?",
		Answer:     "Yes, bring your ticket to the desk.",
		Confidence: confidence(0.95),
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[KnowledgeEntryResponse](t, rec).ID

	// An answer-only edit must not silently zero a trusted entry
	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/"+id, map[string]any{
		"question": "Do you validate parking?",
		"answer":   "Yes, for up to two hours.",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, gw, http.MethodGet, "/knowledge-base/learned/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	kept := decodeBody[KnowledgeEntryResponse](t, rec)
	assert.Equal(t, 0.95, kept.Confidence)
	assert.Equal(t, "Yes, bring your ticket to the desk.", kept.Answer)

	// An explicit zero is a real value, not a missing one
	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/"+id, KnowledgeEntryRequest{
		Question:   "Do you validate parking?",
		Answer:     "Yes, for up to two hours.",
		Confidence: confidence(0),
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[KnowledgeEntryResponse](t, rec).Confidence)
}

func TestKnowledgeBase_VerifyAndFeedback(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodPost, "/knowledge-base/learned", KnowledgeEntryRequest{
		Question:   "Do you take walk-ins?",
		Answer:     "Weekdays only.",
		Confidence: confidence(0.5),
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	entry := decodeBody[KnowledgeEntryResponse](t, rec)
	assert.False(t, entry.Verified)
	assert.Equal(t, 1.0, entry.SuccessRate)

	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/"+entry.ID+"/verify", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[KnowledgeEntryResponse](t, rec).Verified)

	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/"+entry.ID+"/verify?verified=false", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[KnowledgeEntryResponse](t, rec).Verified)

	rec = do(t, gw, http.MethodPut, "/knowledge-base/learned/"+entry.ID+"/verify?verified=maybe", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, gw, http.MethodPost, "/knowledge-base/learned/"+entry.ID+"/feedback", FeedbackRequest{Helpful: false}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1.0-knowledge.FeedbackWeight, decodeBody[KnowledgeEntryResponse](t, rec).SuccessRate, 1e-9)

	rec = do(t, gw, http.MethodPost, "/knowledge-base/learned/missing/feedback", FeedbackRequest{Helpful: true}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_RolesEnforcedWhenSecretConfigured(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{yaml: "auth:\n  jwt_secret: \"" + testJWTSecret + "\"\n"})

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	supervisorToken, err := verifier.Generate("maria", auth.RoleSupervisor, time.Hour)
	require.NoError(t, err)
	agentToken, err := verifier.Generate("voice-agent", auth.RoleAgent, time.Hour)
	require.NoError(t, err)

	rec := do(t, gw, http.MethodGet, "/help-requests", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, gw, http.MethodGet, "/help-requests", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, gw, http.MethodGet, "/help-requests", nil, agentToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, gw, http.MethodGet, "/help-requests", nil, supervisorToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Hello?"}, agentToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[engine.Outcome](t, rec)

	// The token subject wins over a self-reported resolver
	rec = do(t, gw, http.MethodPut, "/help-requests/"+out.RequestID+"/resolve", ResolveRequest{
		Response:   "Hi there.",
		ResolvedBy: "someone-else",
	}, supervisorToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "maria", decodeBody[notify.HelpRequestPayload](t, rec).ResolvedBy)

	// Health and webhook stay open
	rec = do(t, gw, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{yaml: "ratelimit:\n  requests_per_minute: 1\n"})

	rec := do(t, gw, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, gw, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Unlimited routes are unaffected
	rec = do(t, gw, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrDuplicateKey, http.StatusConflict},
		{store.ErrAlreadyResolved, http.StatusConflict},
		{knowledge.ErrInvalidEntry, http.StatusUnprocessableEntity},
		{engine.ErrEmptyQuestion, http.StatusUnprocessableEntity},
		{escalation.ErrEmptyResponse, http.StatusUnprocessableEntity},
		{store.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
