package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ringkv"

// Metrics groups the collectors of one node. Collectors are registered on the
// registerer passed to New so that tests and multi-node processes stay isolated.
type Metrics struct {
	// Operations counts coordinated operations by op (get, put) and result.
	Operations *prometheus.CounterVec
	// OperationDuration observes the time the caller waited for a quorum.
	OperationDuration *prometheus.HistogramVec
	// ReplicaOutcomes counts classified per-host responses.
	ReplicaOutcomes *prometheus.CounterVec
	// Repairs counts repair writes by result.
	Repairs *prometheus.CounterVec
	// RingHosts is the number of hosts on the ring.
	RingHosts prometheus.Gauge
	// BreakerTransitions counts circuit breaker state changes per remote host.
	BreakerTransitions *prometheus.CounterVec
	// TombstonesCompacted counts tombstones removed by compaction.
	TombstonesCompacted prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Coordinated operations by type and result",
		}, []string{"op", "result"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time until the caller of a coordinated operation was released",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"op"}),
		ReplicaOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_outcomes_total",
			Help:      "Per-host responses by operation and outcome",
		}, []string{"op", "outcome"}),
		Repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Read-repair writes by result",
		}, []string{"result"}),
		RingHosts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ring_hosts",
			Help:      "Number of hosts on the ring",
		}),
		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes per remote host",
		}, []string{"host", "to"}),
		TombstonesCompacted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tombstones_compacted_total",
			Help:      "Tombstones removed by compaction",
		}),
	}
}

// NewNop returns collectors registered nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
