// Package metrics provides the Prometheus collector for the deliberation
// engine. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every metric the engine exports. Construct it with a
// dedicated registerer per process; tests pass their own registry so
// repeated construction never panics on duplicate registration.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Deliberation metrics
	deliberationsTotal   *prometheus.CounterVec
	deliberationDuration *prometheus.HistogramVec
	stageDuration        *prometheus.HistogramVec
	modelCallsTotal      *prometheus.CounterVec
	modelCallDuration    *prometheus.HistogramVec
	activeDeliberations  prometheus.Gauge
}

// NewCollector registers all collectors against reg.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	c := &Collector{}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.deliberationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliberations_total",
			Help:      "Deliberations by terminal state",
		},
		[]string{"state"},
	)
	c.deliberationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deliberation_duration_seconds",
			Help:      "Full deliberation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"state"},
	)
	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Per-stage duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"stage"},
	)
	c.modelCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model invocations by model, stage and outcome",
		},
		[]string{"model", "stage", "status"},
	)
	c.modelCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 11),
		},
		[]string{"model", "stage"},
	)
	c.activeDeliberations = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_deliberations",
			Help:      "Deliberations currently in flight",
		},
	)

	return c
}

// ObserveHTTPRequest records one handled request.
func (c *Collector) ObserveHTTPRequest(method, path, status string, elapsed time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveStage records one completed pipeline stage.
func (c *Collector) ObserveStage(stage string, elapsed time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveModelCall records one model invocation settle.
func (c *Collector) ObserveModelCall(model, stage, status string, elapsed time.Duration) {
	c.modelCallsTotal.WithLabelValues(model, stage, status).Inc()
	c.modelCallDuration.WithLabelValues(model, stage).Observe(elapsed.Seconds())
}

// ObserveDeliberation records one terminal deliberation.
func (c *Collector) ObserveDeliberation(state string, elapsed time.Duration) {
	c.deliberationsTotal.WithLabelValues(state).Inc()
	c.deliberationDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

// DeliberationStarted increments the in-flight gauge.
func (c *Collector) DeliberationStarted() { c.activeDeliberations.Inc() }

// DeliberationFinished decrements the in-flight gauge.
func (c *Collector) DeliberationFinished() { c.activeDeliberations.Dec() }
