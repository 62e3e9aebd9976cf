// Package vectorcache Prometheus metrics for the cache core.
package vectorcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EntriesGauge tracks the number of cached entries per scope.
	EntriesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of cached vector entries per scope",
		},
		[]string{"scope"},
	)

	// MemoryBytesGauge tracks the estimated memory footprint per scope.
	MemoryBytesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "memory_bytes",
			Help:      "Estimated memory footprint of cached entries per scope",
		},
		[]string{"scope"},
	)

	// InsertsTotal counts insert outcomes.
	// Labels: scope, result (inserted, replaced, noop, rejected)
	InsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "inserts_total",
			Help:      "Total insert operations by outcome",
		},
		[]string{"scope", "result"},
	)

	// SearchesTotal counts searches by outcome.
	// Labels: scope, outcome (hit, miss, error)
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "searches_total",
			Help:      "Total similarity searches by outcome",
		},
		[]string{"scope", "outcome"},
	)

	// SearchDuration tracks similarity search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "search_duration_seconds",
			Help:      "Duration of similarity searches in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// EvictionsTotal counts evicted entries.
	// Labels: scope, strategy (lru, lfu, random, priority)
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total entries evicted to satisfy the memory budget",
		},
		[]string{"scope", "strategy"},
	)

	// EvictedBytesTotal counts bytes freed by eviction.
	// Labels: scope, strategy
	EvictedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "evicted_bytes_total",
			Help:      "Total bytes freed by eviction",
		},
		[]string{"scope", "strategy"},
	)

	// IntegrityScansTotal counts integrity scans by status.
	// Labels: scope, status (healthy, degraded, error)
	IntegrityScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "integrity_scans_total",
			Help:      "Total integrity scans by resulting status",
		},
		[]string{"scope", "status"},
	)

	// CorruptEntriesGauge tracks entries flagged by the last scan per scope.
	CorruptEntriesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "corrupt_entries",
			Help:      "Entries flagged by the most recent integrity scan per scope",
		},
		[]string{"scope"},
	)

	// IntegrityScanDuration tracks integrity scan latency.
	IntegrityScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vectorcached",
			Subsystem: "cache",
			Name:      "integrity_scan_duration_seconds",
			Help:      "Duration of integrity scans in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// updateStoreGauges refreshes the per-scope size gauges. Callers pass values
// captured under the store lock.
func updateStoreGauges(scopeLabel string, entries int, sizeBytes int64) {
	EntriesGauge.WithLabelValues(scopeLabel).Set(float64(entries))
	MemoryBytesGauge.WithLabelValues(scopeLabel).Set(float64(sizeBytes))
}

// ResetScopeMetrics drops the per-scope series after a scope is reclaimed so
// dashboards do not show stale gauges for dead scopes.
func ResetScopeMetrics(scopeLabel string) {
	EntriesGauge.DeleteLabelValues(scopeLabel)
	MemoryBytesGauge.DeleteLabelValues(scopeLabel)
	CorruptEntriesGauge.DeleteLabelValues(scopeLabel)
}
