// Package lifecycle Prometheus metrics for scope lifecycle management.
package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveScopesGauge tracks the number of resident scope caches.
	ActiveScopesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "active_scopes",
			Help:      "Number of scope caches currently resident in the registry",
		},
	)

	// WarmsTotal counts warm attempts by result.
	// Labels: result (ready, failed)
	WarmsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "warms_total",
			Help:      "Total scope warm attempts by result",
		},
		[]string{"result"},
	)

	// WarmDuration tracks successful warm latency.
	WarmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "warm_duration_seconds",
			Help:      "Duration of successful scope warms in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// InvalidationsTotal counts explicit scope invalidations.
	InvalidationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "invalidations_total",
			Help:      "Total explicit scope invalidations",
		},
	)

	// ScopeReclamationsTotal counts whole scopes reclaimed by the registry's
	// capacity or TTL bound.
	ScopeReclamationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "scope_reclamations_total",
			Help:      "Total scope caches reclaimed by registry capacity or TTL",
		},
	)

	// RemediationsTotal counts corruption remediations by action.
	// Labels: action (refetch, rebuild)
	RemediationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectorcached",
			Subsystem: "lifecycle",
			Name:      "remediations_total",
			Help:      "Total corruption remediations by action taken",
		},
		[]string{"action"},
	)
)
