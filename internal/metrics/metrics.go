package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DependencyCallsTotal tracks calls per dependency and tier
	DependencyCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagate_dependency_calls_total",
			Help: "Total number of dependency calls",
		},
		[]string{"dependency", "tier"},
	)

	// DependencyErrorsTotal tracks errors per dependency and tier
	DependencyErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagate_dependency_errors_total",
			Help: "Total number of dependency errors",
		},
		[]string{"dependency", "tier"},
	)

	// ProbeLatency tracks liveness probe latency per dependency
	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediagate_probe_latency_seconds",
			Help:    "Liveness probe latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dependency"},
	)

	// CircuitState exposes the breaker state per dependency
	// (0 = closed, 1 = open, 2 = half-open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediagate_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"dependency"},
	)

	// FallbackActivationsTotal counts handoffs to the local fallback tier
	FallbackActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagate_fallback_activations_total",
			Help: "Total number of requests served by the local fallback",
		},
		[]string{"dependency"},
	)

	// CacheHitsTotal tracks cache hits per tier
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediagate_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"},
	)

	// CacheMissesTotal tracks cache misses
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagate_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheEvictionsTotal tracks fast-tier evictions
	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediagate_cache_evictions_total",
			Help: "Total number of fast-tier cache evictions",
		},
	)
)
