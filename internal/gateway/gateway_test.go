// ABOUTME: Tests for gateway wiring, lifecycle, and health endpoints
// ABOUTME: Shared helpers build a gateway over the in-memory mock store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/frontdesk-gateway/internal/config"
	"github.com/2389/frontdesk-gateway/internal/llm"
	"github.com/2389/frontdesk-gateway/internal/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// fakeLLM returns a canned answer and records how often it was asked.
type fakeLLM struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  int
}

func (f *fakeLLM) Answer(ctx context.Context, history []llm.Turn, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.answer, f.err
}

type testOptions struct {
	yaml      string
	model     *fakeLLM
	noMetrics bool
}

// testConfig owns the metrics block; extra must not repeat it.
func testConfig(t *testing.T, metricsEnabled bool, extra string) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf("database:\n  path: %q\nwebhook:\n  livekit_secret: %q\nmetrics:\n  enabled: %t\n%s",
		filepath.Join(t.TempDir(), "unused.db"), "lk-test-secret", metricsEnabled, extra)
	cfg, err := config.Parse([]byte(yaml), ".yaml")
	require.NoError(t, err)
	return cfg
}

// newTestGateway builds a gateway over a fresh MockStore. opts.yaml is
// appended to the base YAML config.
func newTestGateway(t *testing.T, opts testOptions) (*Gateway, *store.MockStore) {
	t.Helper()

	ms := store.NewMockStore()
	cfg := testConfig(t, !opts.noMetrics, opts.yaml)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gw *Gateway
	var err error
	if opts.model != nil {
		gw, err = newGateway(cfg, ms, opts.model, logger)
	} else {
		gw, err = newGateway(cfg, ms, nil, logger)
	}
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.notifier.Close()
		gw.replays.Close()
	})
	return gw, ms
}

// do sends a request through the full handler chain.
func do(t *testing.T, gw *Gateway, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:40000"
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	gw, ms := newTestGateway(t, testOptions{})

	rec := do(t, gw, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (0 subscribers)", rec.Body.String())

	ms.FailPing = errors.New("disk gone")
	rec = do(t, gw, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database unavailable", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	// Generate one escalation so the counter has a sample
	rec := do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Do you sell gift cards?"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, gw, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "frontdesk_escalations_total 1")
	assert.Contains(t, rec.Body.String(), `frontdesk_help_requests{status="pending"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{noMetrics: true})
	assert.False(t, gw.config.Metrics.Enabled)

	rec := do(t, gw, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The rest of the API still works without a registry
	rec = do(t, gw, http.MethodPost, "/api/ask", AskRequest{Question: "Do you sell gift cards?"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_OpensSQLiteStore(t *testing.T) {
	cfg := testConfig(t, true, "")
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "gateway.db")

	gw, err := New(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = gw.Shutdown(context.Background()) }()

	rec := do(t, gw, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = http.Get(url)
	assert.Error(t, err, "listener should be closed")
}

func TestServe_ReturnsServerError(t *testing.T) {
	gw, _ := newTestGateway(t, testOptions{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	err = gw.Serve(context.Background(), ln)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server")
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "ok", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "store close", store.ErrNotFound)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], store.ErrNotFound)
	assert.Equal(t, "store close: not found", errs[0].Error())
}
