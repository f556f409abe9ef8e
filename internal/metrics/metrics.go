// Package metrics exposes Prometheus instrumentation for the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the dashboard records into.
type Metrics struct {
	// Aggregation
	ActivityLoadsTotal  *prometheus.CounterVec
	ActivityLoadSeconds prometheus.Histogram
	EntriesDroppedTotal *prometheus.CounterVec

	// Tracking
	TrackerPollsTotal *prometheus.CounterVec
	TrackersActive    prometheus.Gauge

	// Live feed
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec

	// Submissions
	SubmissionsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the dashboard collectors with reg under namespace.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActivityLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_loads_total",
				Help:      "Recent-activity aggregation cycles by result",
			},
			[]string{"result"},
		),
		ActivityLoadSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "activity_load_duration_seconds",
				Help:      "Wall time of one aggregation cycle including the all-settled join",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		EntriesDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_entries_dropped_total",
				Help:      "Contracts excluded from a view by reason",
			},
			[]string{"reason"},
		),
		TrackerPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_polls_total",
				Help:      "Tracker event fetches by result",
			},
			[]string{"result"},
		),
		TrackersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "trackers_active",
				Help:      "Contracts currently being polled",
			},
		),
		WSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_connections_active",
				Help:      "Open live-feed WebSocket connections",
			},
		),
		WSMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_total",
				Help:      "Live-feed messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Pentest job submissions by result",
			},
			[]string{"result"},
		),
		gatherer: reg,
	}
}

// NewNop returns metrics bound to a private registry, for tests and tools
// that do not export anything.
func NewNop() *Metrics {
	return New("nop", prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
