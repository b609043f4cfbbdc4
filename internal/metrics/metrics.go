// Package metrics provides the centralized Prometheus metrics registry for
// the timing engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	ReadingsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "readings_accepted_total",
		Help:      "Total number of readings accepted by ingestion",
	})
	ReadingsDuplicateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "readings_duplicate_total",
		Help:      "Total number of duplicate readings, by dedup layer",
	}, []string{"layer"})
	ReadingsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "readings_rejected_total",
		Help:      "Total number of rejected readings, by reason",
	}, []string{"reason"})
	RecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "classification_recomputes_total",
		Help:      "Total number of full classification recomputes",
	})
	RecomputesAbortedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "classification_recomputes_aborted_total",
		Help:      "Recomputes discarded because the stage was cancelled mid-computation",
	})
	NotificationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "apex_timing",
		Name:      "notifications_dropped_total",
		Help:      "Live-view notifications dropped because a subscriber was slow",
	})
)

// Gauge metrics
var (
	CacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "apex_timing",
		Name:      "result_cache_hit_ratio",
		Help:      "Hit ratio of the classification result cache",
	})
	LiveSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "apex_timing",
		Name:      "live_subscribers",
		Help:      "Currently connected live-view WebSocket subscribers",
	})
	CachedStages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "apex_timing",
		Name:      "cached_stages",
		Help:      "Number of stages with a cached classification",
	})
)

// Histogram metrics
var (
	RecomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "apex_timing",
		Name:      "classification_recompute_duration_seconds",
		Help:      "Duration of full classification recomputes in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	IngestLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "apex_timing",
		Name:      "ingest_latency_seconds",
		Help:      "Latency of single-reading ingestion in seconds",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
	})
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "apex_timing",
		Name:      "ingest_batch_size",
		Help:      "Number of readings per batch submission",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(ReadingsAcceptedTotal)
		registry.MustRegister(ReadingsDuplicateTotal)
		registry.MustRegister(ReadingsRejectedTotal)
		registry.MustRegister(RecomputesTotal)
		registry.MustRegister(RecomputesAbortedTotal)
		registry.MustRegister(NotificationsDroppedTotal)

		registry.MustRegister(CacheHitRatio)
		registry.MustRegister(LiveSubscribers)
		registry.MustRegister(CachedStages)

		registry.MustRegister(RecomputeDuration)
		registry.MustRegister(IngestLatency)
		registry.MustRegister(BatchSize)
	})
	return registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(InitRegistry(), promhttp.HandlerOpts{})
}
