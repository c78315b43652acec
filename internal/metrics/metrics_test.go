// ABOUTME: Tests for gateway Prometheus metrics
// ABOUTME: Checks counters, the store-backed collector, and nil safety

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/frontdesk-gateway/internal/store"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.Lookup(OutcomeMiss)
	m.Lookup(OutcomeMiss)
	m.Lookup(OutcomePredefined)
	m.Escalated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues(OutcomeMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lookups.WithLabelValues(OutcomePredefined)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.escalations))
}

func TestMetrics_SubscriberGauge(t *testing.T) {
	m := New(nil)

	m.SubscriberAdded()
	m.SubscriberAdded()
	m.SubscriberRemoved(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscribers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
}

func TestMetrics_HelpRequestCollector(t *testing.T) {
	ms := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateHelpRequest(ctx, &store.HelpRequest{ID: "a", Question: "q1"}))
	require.NoError(t, ms.CreateHelpRequest(ctx, &store.HelpRequest{ID: "b", Question: "q2"}))

	m := New(ms)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `frontdesk_help_requests{status="pending"} 2`), body)
	assert.True(t, strings.Contains(body, `frontdesk_help_requests{status="resolved"} 0`), body)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Lookup(OutcomeMiss)
		m.Escalated()
		m.Resolution("ok")
		m.SubscriberAdded()
		m.SubscriberRemoved(false)
		m.WebhookEvent("room_started", "ok")
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
