package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts settlement operations by outcome and times
// payment gateway calls. It satisfies gateway.Observer.
type SettlementMetrics struct {
	operations  *prometheus.CounterVec
	gatewayCall *prometheus.HistogramVec
	amounts     *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil
// registerer yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fixora_settlement_operations_total",
		Help: "Settlement operations by kind and outcome.",
	}, []string{"operation", "outcome"})
	gatewayCall := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fixora_gateway_call_duration_seconds",
		Help:    "Payment gateway call latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op", "outcome"})
	amounts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fixora_settlement_amount_minor_total",
		Help: "Money moved by settlement operations, in minor units.",
	}, []string{"operation"})
	reg.MustRegister(operations, gatewayCall, amounts)
	return &SettlementMetrics{
		operations:  operations,
		gatewayCall: gatewayCall,
		amounts:     amounts,
	}
}

// IncOperation records one settlement operation outcome, e.g.
// ("capture", "duplicate").
func (m *SettlementMetrics) IncOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// AddAmount adds moved money for the operation. Non-positive values are ignored.
func (m *SettlementMetrics) AddAmount(operation string, cents int64) {
	if m == nil || m.amounts == nil || cents <= 0 {
		return
	}
	m.amounts.WithLabelValues(normalizeLabel(operation)).Add(float64(cents))
}

func (m *SettlementMetrics) ObserveGatewayCall(op, outcome string, d time.Duration) {
	if m == nil || m.gatewayCall == nil {
		return
	}
	m.gatewayCall.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Observe(d.Seconds())
}
