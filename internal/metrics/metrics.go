// Package metrics provides Prometheus metrics for the sparx server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sparx"

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing,
// so components can be built without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Workflow metrics
	WorkflowsRegistered prometheus.Gauge
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	RetriesTotal        *prometheus.CounterVec
	DeferredTotal       *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	InFlight            prometheus.Gauge
	ArchivedTotal       prometheus.Counter

	// Orchestrator loop
	TickDuration prometheus.Histogram

	// Ingress metrics
	WebhookRequestsTotal *prometheus.CounterVec
	WebhookDuration      *prometheus.HistogramVec

	// Timing engine metrics
	EngagementRecordsTotal *prometheus.CounterVec
	RecommendationsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WorkflowsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_registered",
			Help:      "Number of registered workflows.",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Resolved workflow attempts by outcome.",
		}, []string{"workflow_id", "status", "error_kind"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Workflow attempt duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"workflow_id"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts re-queued after a failure.",
		}, []string{"workflow_id"}),
		DeferredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_deferrals_total",
			Help:      "Runs deferred because dependencies were not fresh.",
		}, []string{"workflow_id"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_queue_depth",
			Help:      "Entries waiting in the scheduling heap.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Attempts currently running in the worker pool.",
		}),
		ArchivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_archived_total",
			Help:      "Executions moved out of the live table by cleanup.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "orchestrator_tick_duration_seconds",
			Help:      "Orchestrator loop tick duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		WebhookRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Ingress requests by endpoint and response status.",
		}, []string{"endpoint", "status"}),
		WebhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Ingress pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		EngagementRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engagement_records_total",
			Help:      "Engagement observations ingested by platform.",
		}, []string{"platform"}),
		RecommendationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_recommendations_total",
			Help:      "Schedule recommendations served by platform and confidence.",
		}, []string{"platform", "confidence"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WorkflowsRegistered,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.RetriesTotal,
		m.DeferredTotal,
		m.QueueDepth,
		m.InFlight,
		m.ArchivedTotal,
		m.TickDuration,
		m.WebhookRequestsTotal,
		m.WebhookDuration,
		m.EngagementRecordsTotal,
		m.RecommendationsTotal,
		m.HTTPRequestsTotal,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAttempt records a resolved workflow attempt.
func (m *Metrics) RecordAttempt(workflowID, status, errorKind string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(workflowID, status, errorKind).Inc()
	m.ExecutionDuration.WithLabelValues(workflowID).Observe(seconds)
}

// RecordRetry counts a re-queued attempt.
func (m *Metrics) RecordRetry(workflowID string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(workflowID).Inc()
}

// RecordDeferral counts a dependency deferral.
func (m *Metrics) RecordDeferral(workflowID string) {
	if m == nil {
		return
	}
	m.DeferredTotal.WithLabelValues(workflowID).Inc()
}

// RecordArchived counts executions moved to the archive.
func (m *Metrics) RecordArchived(n int) {
	if m == nil {
		return
	}
	m.ArchivedTotal.Add(float64(n))
}

// ObserveTick records a loop tick duration.
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(seconds)
}

// SetQueueState sets the queue depth, in-flight and registered workflow gauges.
func (m *Metrics) SetQueueState(depth, inFlight, workflows int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.InFlight.Set(float64(inFlight))
	m.WorkflowsRegistered.Set(float64(workflows))
}

// RecordWebhook records an ingress request outcome.
func (m *Metrics) RecordWebhook(endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.WebhookRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.WebhookDuration.WithLabelValues(endpoint).Observe(seconds)
}

// RecordEngagement counts an ingested engagement observation.
func (m *Metrics) RecordEngagement(platform string) {
	if m == nil {
		return
	}
	m.EngagementRecordsTotal.WithLabelValues(platform).Inc()
}

// RecordRecommendation counts a served schedule recommendation.
func (m *Metrics) RecordRecommendation(platform, confidence string) {
	if m == nil {
		return
	}
	m.RecommendationsTotal.WithLabelValues(platform, confidence).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
}
