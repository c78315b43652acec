// ABOUTME: Prometheus metrics for knowledge lookups, escalations, and fan-out
// ABOUTME: Owns a private registry plus a collector that reads pending requests from the store

package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/frontdesk-gateway/internal/store"
)

// Lookup outcomes.
const (
	OutcomePredefined = "predefined"
	OutcomeLearned    = "learned"
	OutcomeUntrusted  = "untrusted"
	OutcomeMiss       = "miss"
	OutcomeError      = "error"
)

var helpRequestsDesc = prometheus.NewDesc(
	"frontdesk_help_requests",
	"Help requests currently stored, by status",
	[]string{"status"},
	nil,
)

// Metrics holds the gateway's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	answers       *prometheus.CounterVec
	escalations   prometheus.Counter
	resolutions   *prometheus.CounterVec
	subscribers   prometheus.Gauge
	dropped       prometheus.Counter
	webhookEvents *prometheus.CounterVec
	llmLatency    prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
// If requests is non-nil, a collector reporting help request counts is added.
func New(requests store.HelpRequestStore) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_knowledge_lookups_total",
			Help: "Knowledge lookups by outcome",
		}, []string{"outcome"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_answers_total",
			Help: "Questions answered automatically, by source",
		}, []string{"source"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_escalations_total",
			Help: "Help requests created",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_resolutions_total",
			Help: "Resolve attempts by result",
		}, []string{"result"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontdesk_notifier_subscribers",
			Help: "Live subscriber connections",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_notifier_evictions_total",
			Help: "Subscribers removed after a failed or overflowing delivery",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_webhook_events_total",
			Help: "Inbound webhook events by event name and result",
		}, []string{"event", "result"}),
		llmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "frontdesk_llm_request_seconds",
			Help:    "LLM answer latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.lookups,
		m.answers,
		m.escalations,
		m.resolutions,
		m.subscribers,
		m.dropped,
		m.webhookEvents,
		m.llmLatency,
	)
	if requests != nil {
		m.registry.MustRegister(&helpRequestCollector{requests: requests})
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Lookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Answered(source string) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(source).Inc()
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// Resolution records a Resolve attempt; result is "ok", "not_found", "already_resolved" or "error".
func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved(evicted bool) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
	if evicted {
		m.dropped.Inc()
	}
}

func (m *Metrics) WebhookEvent(event, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) ObserveLLM(d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.Observe(d.Seconds())
}

// helpRequestCollector reads help request counts from the store on each scrape.
type helpRequestCollector struct {
	requests store.HelpRequestStore
}

func (c *helpRequestCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- helpRequestsDesc
}

func (c *helpRequestCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, status := range []store.HelpRequestStatus{store.HelpRequestPending, store.HelpRequestResolved} {
		n, err := c.requests.CountHelpRequests(ctx, status)
		if err != nil {
			slog.Error("failed to collect help request metrics", "status", status, "error", err)
			return
		}
		ch <- prometheus.MustNewConstMetric(helpRequestsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}
