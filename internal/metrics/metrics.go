// Package metrics exposes Prometheus instrumentation for the sync server.
//
// Metrics are served by cmd/server at /metrics. A nil *Metrics is valid and
// records nothing, so services can be built without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gophsync"

// Result label values.
const (
	ResultOK        = "ok"
	ResultConflict  = "conflict"
	ResultUnchanged = "unchanged"
	ResultInvalid   = "invalid"
	ResultLimited   = "rate_limited"
	ResultError     = "error"
)

// Metrics holds every collector of the server.
type Metrics struct {
	// CollectionWrites counts conditional collection writes.
	// Labels: result (ok, conflict, error)
	CollectionWrites *prometheus.CounterVec

	// CollectionReads counts collection reads.
	// Labels: result (ok, unchanged, error)
	CollectionReads *prometheus.CounterVec

	// InviteConsumptions counts redemption attempts.
	// Labels: result (ok, invalid, rate_limited, error)
	InviteConsumptions *prometheus.CounterVec

	// RequestDuration measures handler latency.
	// Labels: route
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CollectionWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collection_writes_total",
				Help:      "Conditional collection writes by result",
			},
			[]string{"result"},
		),
		CollectionReads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collection_reads_total",
				Help:      "Collection reads by result",
			},
			[]string{"result"},
		),
		InviteConsumptions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invite_consumptions_total",
				Help:      "Invite redemption attempts by result",
			},
			[]string{"result"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) Write(result string) {
	if m != nil {
		m.CollectionWrites.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Read(result string) {
	if m != nil {
		m.CollectionReads.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Consume(result string) {
	if m != nil {
		m.InviteConsumptions.WithLabelValues(result).Inc()
	}
}

// Since records the time elapsed since start under route.
func (m *Metrics) Since(route string, start time.Time) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
