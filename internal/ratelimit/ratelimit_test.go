// ABOUTME: Tests for per-client rate limiting and its HTTP middleware
// ABOUTME: Uses explicit timestamps so refill behavior is deterministic

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/frontdesk-gateway/internal/auth"
)

func TestNew_DisabledWhenZero(t *testing.T) {
	l := New(Config{})
	assert.Nil(t, l)

	ok, _ := l.Allow("anyone", time.Now())
	assert.True(t, ok)
	assert.Equal(t, 0, l.Clients())
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, Burst: 2})
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	ok, _ := l.Allow("a", now)
	assert.True(t, ok)
	ok, _ = l.Allow("a", now)
	assert.True(t, ok)

	ok, retry := l.Allow("a", now)
	assert.False(t, ok)
	assert.Equal(t, 1, retry)

	// A denied request does not consume a token
	ok, _ = l.Allow("a", now.Add(time.Second))
	assert.True(t, ok)
}

func TestAllow_ClientsAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	now := time.Now()

	ok, _ := l.Allow("a", now)
	assert.True(t, ok)
	ok, retry := l.Allow("a", now)
	assert.False(t, ok)
	assert.InDelta(t, 60, retry, 1)

	ok, _ = l.Allow("b", now)
	assert.True(t, ok)
}

func TestClientTable_IsBounded(t *testing.T) {
	l := New(Config{RequestsPerMinute: 10, MaxClients: 2, ClientTTL: time.Minute})
	now := time.Now()

	l.Allow("a", now)
	l.Allow("b", now)
	l.Allow("c", now.Add(2*time.Minute))
	assert.Equal(t, 1, l.Clients(), "expired clients are collected when the table is full")

	l.Allow("d", now.Add(2*time.Minute))
	l.Allow("e", now.Add(2*time.Minute))
	assert.LessOrEqual(t, l.Clients(), 2)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "ip:10.0.0.7", ClientKey(req))

	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{Subject: "alice", Role: auth.RoleSupervisor}))
	assert.Equal(t, "sub:alice", ClientKey(req))
}

func TestMiddleware(t *testing.T) {
	l := New(Config{RequestsPerMinute: 1, Burst: 1})
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}
