package coordination

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultApplied  = "applied"
	resultRejected = "rejected"
	resultError    = "error"
)

// Metrics tracks coordination outcomes. A nil *Metrics records nothing.
type Metrics struct {
	LeaseOps      *prometheus.CounterVec   // op=acquire|renew|release, result
	NodeLockOps   *prometheus.CounterVec   // op=lock|renew|release, result
	OpLatency     *prometheus.HistogramVec // op
	Transitions   *prometheus.CounterVec   // state
	LiveInstances prometheus.Gauge
	Leader        prometheus.Gauge
	OrphansReset  prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics registers the coordination collectors with the default
// registry exactly once per process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates the collectors and registers them with reg. A collector
// already present in reg is reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeaseOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordination_lease_ops_total",
				Help: "Lease operations by result",
			},
			[]string{"op", "result"},
		),
		NodeLockOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordination_node_lock_ops_total",
				Help: "Node lock batches by result",
			},
			[]string{"op", "result"},
		),
		OpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coordination_op_latency_seconds",
				Help:    "Latency of coordination store operations",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"op"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordination_segment_transitions_total",
				Help: "Persisted segment transitions by target state",
			},
			[]string{"state"},
		),
		LiveInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordination_live_instances",
			Help: "Instances with a live heartbeat at the last count",
		}),
		Leader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coordination_leader",
			Help: "1 while this instance holds the scheduler lease",
		}),
		OrphansReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordination_orphan_segments_reset_total",
			Help: "Segments reset by the orphan sweeper",
		}),
	}
	if reg == nil {
		return m
	}
	m.LeaseOps = register(reg, m.LeaseOps)
	m.NodeLockOps = register(reg, m.NodeLockOps)
	m.OpLatency = register(reg, m.OpLatency)
	m.Transitions = register(reg, m.Transitions)
	m.LiveInstances = register(reg, m.LiveInstances)
	m.Leader = register(reg, m.Leader)
	m.OrphansReset = register(reg, m.OrphansReset)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) leaseOp(op string, applied bool, err error) {
	if m == nil {
		return
	}
	m.LeaseOps.WithLabelValues(op, result(applied, err)).Inc()
}

func (m *Metrics) nodeLockOp(op string, applied bool, err error) {
	if m == nil {
		return
	}
	m.NodeLockOps.WithLabelValues(op, result(applied, err)).Inc()
}

func (m *Metrics) observe(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OpLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) transition(state SegmentState) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) liveInstances(n int) {
	if m == nil {
		return
	}
	m.LiveInstances.Set(float64(n))
}

func (m *Metrics) leader(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Leader.Set(1)
		return
	}
	m.Leader.Set(0)
}

func (m *Metrics) orphanReset() {
	if m == nil {
		return
	}
	m.OrphansReset.Inc()
}

func result(applied bool, err error) string {
	switch {
	case err != nil:
		return resultError
	case applied:
		return resultApplied
	default:
		return resultRejected
	}
}
