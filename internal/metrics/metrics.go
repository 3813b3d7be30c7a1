// Package metrics exposes Prometheus collectors for the exchange and
// client hot paths: ring/pool occupancy, order lifecycle counters, and
// matching latency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector so main() can register them once and
// every component can reach its own metric through a narrow field.
type Registry struct {
	RingDepth       *prometheus.GaugeVec
	PoolUtilization *prometheus.GaugeVec
	OrdersAccepted  *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	OrdersFilled    *prometheus.CounterVec
	OrdersCanceled  *prometheus.CounterVec
	MatchLatencyNs  prometheus.Histogram
	RiskGateTripped *prometheus.CounterVec
}

// NewRegistry builds a Registry with every collector except the
// MatchLatencyNs histogram labeled for per-instrument or per-reason
// breakdown, per §6.
func NewRegistry() *Registry {
	return &Registry{
		RingDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lowlatency_ring_depth",
			Help: "Current occupancy of an SPSC ring buffer.",
		}, []string{"ring"}),
		PoolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lowlatency_pool_utilization",
			Help: "Fraction of a slot pool's capacity currently allocated.",
		}, []string{"pool"}),
		OrdersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlatency_orders_accepted_total",
			Help: "New orders accepted by the matching engine.",
		}, []string{"ticker"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlatency_orders_rejected_total",
			Help: "Requests rejected by the matching engine, by reason.",
		}, []string{"ticker", "reason"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlatency_orders_filled_total",
			Help: "Orders that received a full or partial fill.",
		}, []string{"ticker"}),
		OrdersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlatency_orders_canceled_total",
			Help: "Orders canceled successfully.",
		}, []string{"ticker"}),
		MatchLatencyNs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lowlatency_match_latency_nanoseconds",
			Help:    "Time from request dequeue to response emission.",
			Buckets: prometheus.ExponentialBuckets(100, 2, 16),
		}),
		RiskGateTripped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lowlatency_risk_gate_tripped_total",
			Help: "Risk manager rejections, by gate.",
		}, []string{"ticker", "gate"}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate registration (a programmer error, not a runtime condition).
func (r *Registry) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		r.RingDepth, r.PoolUtilization, r.OrdersAccepted, r.OrdersRejected,
		r.OrdersFilled, r.OrdersCanceled, r.MatchLatencyNs, r.RiskGateTripped,
	)
}
