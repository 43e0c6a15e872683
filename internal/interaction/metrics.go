package interaction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	mutations *prometheus.CounterVec
	retries   *prometheus.CounterVec
	stale     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// mutations counts settled mutations by action and outcome
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadline_mutations_total",
			Help: "Settled mutations by action and outcome",
		}, []string{"action", "outcome"}),

		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadline_mutation_retries_total",
			Help: "Remote call retries by action",
		}, []string{"action"}),

		// stale counts settlements that arrived after a newer intent
		stale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadline_stale_settlements_total",
			Help: "Settlements discarded because a newer mutation owned the field",
		}, []string{"action"}),

		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadline_mutation_duration_seconds",
			Help:    "Time from dispatch to settlement",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"action"}),
	}
}

func (m *Metrics) settled(kind ActionKind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) retried(kind ActionKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) staleSettlement(kind ActionKind) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(string(kind)).Inc()
}
