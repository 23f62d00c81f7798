// Package metrics exposes Prometheus instrumentation for polling and transactions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clear"

// Metrics holds the client's collectors. A nil *Metrics records nothing.
type Metrics struct {
	PollReads     *prometheus.CounterVec
	PollLatency   *prometheus.HistogramVec
	StaleDiscards *prometheus.CounterVec
	ActiveLines   prometheus.Gauge

	TxTransitions *prometheus.CounterVec
	TxOutcomes    *prometheus.CounterVec

	RouteOpen *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWith(reg)
	m.gatherer = reg
	return m
}

// NewWith registers the collectors on reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollReads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "reads_total",
			Help:      "Remote reads issued by the polled state cache",
		}, []string{"endpoint", "result"}),
		PollLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "read_duration_seconds",
			Help:      "Latency of polled remote reads",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		StaleDiscards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "stale_discards_total",
			Help:      "Results dropped because their line was released or superseded",
		}, []string{"endpoint"}),
		ActiveLines: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "active_lines",
			Help:      "Cache lines with at least one subscriber",
		}),
		TxTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "transitions_total",
			Help:      "Transaction state machine transitions",
		}, []string{"kind", "state"}),
		TxOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "outcomes_total",
			Help:      "Terminal transaction outcomes",
		}, []string{"kind", "outcome"}),
		RouteOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "open",
			Help:      "1 when the swap route between the pair is open",
		}, []string{"from", "to"}),
	}
}

// Handler serves the registry this instance was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRead(endpoint string, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PollReads.WithLabelValues(endpoint, result).Inc()
	m.PollLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}

func (m *Metrics) RecordStale(endpoint string) {
	if m == nil {
		return
	}
	m.StaleDiscards.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) SetActiveLines(n int) {
	if m == nil {
		return
	}
	m.ActiveLines.Set(float64(n))
}

func (m *Metrics) RecordTransition(kind, state string) {
	if m == nil {
		return
	}
	m.TxTransitions.WithLabelValues(kind, state).Inc()
}

func (m *Metrics) RecordOutcome(kind, outcome string) {
	if m == nil {
		return
	}
	m.TxOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) SetRouteOpen(from, to string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.RouteOpen.WithLabelValues(from, to).Set(v)
}
