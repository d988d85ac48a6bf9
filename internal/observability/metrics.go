package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// alert dispatch pipeline.
type Metrics struct {
	HazardsConsumed  prometheus.Counter
	HazardsRejected  prometheus.Counter
	DispatcherActive prometheus.Gauge

	// Matching and delivery metrics.
	ClientsMatched   *prometheus.CounterVec   // labels: rule={point,zone}
	AlertsLogged     prometheus.Counter
	AlertLogErrors   prometheus.Counter
	LiveSends        *prometheus.CounterVec   // labels: outcome={delivered,offline,dropped}
	DispatchDuration prometheus.Histogram

	// Live connection metrics.
	ConnectionsOpen   prometheus.Gauge
	HandshakeFailures prometheus.Counter
}

// NewMetrics creates and registers all dispatch metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		HazardsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "hazards_consumed_total",
			Help:      "Total hazard events read from the source topic.",
		}),
		HazardsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "hazards_rejected_total",
			Help:      "Total hazard events rejected by validation before matching.",
		}),
		DispatcherActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hazard_alert",
			Name:      "dispatcher_active",
			Help:      "1 while the dispatch loop is running, 0 when shut down.",
		}),
		ClientsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "clients_matched_total",
			Help:      "Affected clients by match rule.",
		}, []string{"rule"}),
		AlertsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "alerts_logged_total",
			Help:      "Alert records appended to the durable per-client log.",
		}),
		AlertLogErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "alert_log_errors_total",
			Help:      "Failed alert log appends (isolated per client).",
		}),
		LiveSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "live_sends_total",
			Help:      "Live push attempts by outcome.",
		}, []string{"outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hazard_alert",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a complete match-encode-deliver cycle for one hazard.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hazard_alert",
			Name:      "connections_open",
			Help:      "Currently registered live client connections.",
		}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hazard_alert",
			Name:      "handshake_failures_total",
			Help:      "Connections closed for a missing or malformed handshake.",
		}),
	}

	prometheus.MustRegister(
		m.HazardsConsumed,
		m.HazardsRejected,
		m.DispatcherActive,
		m.ClientsMatched,
		m.AlertsLogged,
		m.AlertLogErrors,
		m.LiveSends,
		m.DispatchDuration,
		m.ConnectionsOpen,
		m.HandshakeFailures,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		HazardsConsumed:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "hazards_consumed_total"}),
		HazardsRejected:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "hazards_rejected_total"}),
		DispatcherActive:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "hazard_alert", Name: "dispatcher_active"}),
		ClientsMatched:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "clients_matched_total"}, []string{"rule"}),
		AlertsLogged:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "alerts_logged_total"}),
		AlertLogErrors:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "alert_log_errors_total"}),
		LiveSends:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "live_sends_total"}, []string{"outcome"}),
		DispatchDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "hazard_alert", Name: "dispatch_duration_seconds"}),
		ConnectionsOpen:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "hazard_alert", Name: "connections_open"}),
		HandshakeFailures: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "hazard_alert", Name: "handshake_failures_total"}),
	}
}
