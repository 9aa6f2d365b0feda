// Package metrics exposes the Prometheus instruments for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus collectors. One instance is shared
// by the orchestrator and the reconciler through fx.
type Metrics struct {
	// SyncRuns counts reconciliation passes per provider and outcome
	// ("success" or "error").
	SyncRuns *prometheus.CounterVec

	// SyncDuration observes wall time of one connection's reconciliation.
	SyncDuration *prometheus.HistogramVec

	// EventsApplied counts event writes by direction ("import"/"export") and
	// action ("create"/"update"/"delete").
	EventsApplied *prometheus.CounterVec

	// CursorResets counts full-window refetches forced by expired cursors.
	CursorResets *prometheus.CounterVec

	// CalendarFailures counts per-calendar sync failures that were isolated
	// from the rest of the connection.
	CalendarFailures *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "sync_runs_total",
			Help:      "Reconciliation passes by provider and outcome.",
		}, []string{"provider", "outcome"}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "calsync",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of one connection's reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "events_applied_total",
			Help:      "Event writes by direction and action.",
		}, []string{"provider", "direction", "action"}),
		CursorResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "cursor_resets_total",
			Help:      "Full-window refetches forced by expired incremental cursors.",
		}, []string{"provider"}),
		CalendarFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calsync",
			Name:      "calendar_failures_total",
			Help:      "Per-calendar sync failures isolated from their connection.",
		}, []string{"provider"}),
	}
}

// NewDefault registers on the global default registry for production wiring.
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
