package plancache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of a plan cache.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
	Shared    prometheus.Counter
	Failures  prometheus.Counter
	Entries   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quill_plan_cache_hits_total",
		Help: "Compiles answered from the plan cache",
	})
	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quill_plan_cache_misses_total",
		Help: "Compiles that had to translate",
	})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quill_plan_cache_evictions_total",
		Help: "Plans evicted to stay within the cache size",
	})
	shared := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quill_plan_cache_shared_total",
		Help: "Compiles that waited on a concurrent translation of the same key",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quill_plan_cache_build_failures_total",
		Help: "Translations that failed and were not cached",
	})
	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quill_plan_cache_entries",
		Help: "Plans currently cached",
	})

	reg.MustRegister(hits, misses, evictions, shared, failures, entries)

	return &Metrics{
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
		Shared:    shared,
		Failures:  failures,
		Entries:   entries,
	}
}

// noopMetrics backs caches created without a registry.
func noopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
