// Package metrics provides Prometheus metrics export for the memory subsystem.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "storyreel"
	subsystem = "memory"
)

// PrometheusExporter exports memory metrics in Prometheus format.
// All Record methods are safe on a nil exporter.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Facade operation metrics
	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	degradations     *prometheus.CounterVec

	// Embedding metrics
	embeddingRequests *prometheus.CounterVec
	embeddingLatency  *prometheus.HistogramVec
	breakerState      *prometheus.GaugeVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Consolidation metrics
	consolidationRuns     *prometheus.CounterVec
	consolidationMemories *prometheus.CounterVec
	consolidationLatency  prometheus.Histogram

	// Reindex metrics
	reindexed prometheus.Counter
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operations_total",
			Help:      "Total number of memory facade operations",
		},
		[]string{"operation", "status"},
	)

	e.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "operation_latency_seconds",
			Help:      "Memory facade operation latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.degradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degradations_total",
			Help:      "Memory failures absorbed without failing the caller",
		},
		[]string{"component", "error_class"},
	)

	e.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"provider", "status"},
	)

	e.embeddingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "embedding_latency_seconds",
			Help:      "Embedding provider latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider"},
	)

	e.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.consolidationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consolidation_runs_total",
			Help:      "Total number of consolidation runs",
		},
		[]string{"status"},
	)

	e.consolidationMemories = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consolidation_memories_total",
			Help:      "Semantic memories touched by consolidation",
		},
		[]string{"change"},
	)

	e.consolidationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consolidation_latency_seconds",
			Help:      "Consolidation run latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.reindexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reindexed_total",
			Help:      "Semantic memories embedded by the background reindexer",
		},
	)

	registry.MustRegister(
		e.operations,
		e.operationLatency,
		e.degradations,
		e.embeddingRequests,
		e.embeddingLatency,
		e.breakerState,
		e.cacheHits,
		e.cacheMisses,
		e.consolidationRuns,
		e.consolidationMemories,
		e.consolidationLatency,
		e.reindexed,
	)

	return e
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveOperation records a facade operation that started at start.
func (e *PrometheusExporter) ObserveOperation(operation string, start time.Time, err error) {
	if e == nil {
		return
	}
	e.operations.WithLabelValues(operation, status(err)).Inc()
	e.operationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordDegradation records a memory failure that was logged and swallowed.
func (e *PrometheusExporter) RecordDegradation(component, errorClass string) {
	if e == nil {
		return
	}
	e.degradations.WithLabelValues(component, errorClass).Inc()
}

// RecordEmbedding records one embedding provider call.
func (e *PrometheusExporter) RecordEmbedding(provider string, latency time.Duration, err error) {
	if e == nil {
		return
	}
	e.embeddingRequests.WithLabelValues(provider, status(err)).Inc()
	e.embeddingLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// SetBreakerState publishes a circuit breaker state.
func (e *PrometheusExporter) SetBreakerState(breaker string, state int) {
	if e == nil {
		return
	}
	e.breakerState.WithLabelValues(breaker).Set(float64(state))
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	if e == nil {
		return
	}
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	if e == nil {
		return
	}
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// PartialFailure is implemented by consolidation errors that still produced a summary.
type PartialFailure interface {
	error
	Partial() bool
}

// RecordConsolidation records one consolidation run and the memories it touched.
func (e *PrometheusExporter) RecordConsolidation(latency time.Duration, created, updated, pruned int, err error) {
	if e == nil {
		return
	}
	runStatus := status(err)
	var partial PartialFailure
	if errors.As(err, &partial) && partial.Partial() {
		runStatus = "partial"
	}
	e.consolidationRuns.WithLabelValues(runStatus).Inc()
	e.consolidationLatency.Observe(latency.Seconds())
	e.consolidationMemories.WithLabelValues("created").Add(float64(created))
	e.consolidationMemories.WithLabelValues("updated").Add(float64(updated))
	e.consolidationMemories.WithLabelValues("pruned").Add(float64(pruned))
}

// RecordReindexed records memories embedded by a reindex batch.
func (e *PrometheusExporter) RecordReindexed(count int) {
	if e == nil {
		return
	}
	e.reindexed.Add(float64(count))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
