package metrics

import "github.com/prometheus/client_golang/prometheus"

// Order write results.
const (
	OrderCreated      = "created"
	OrderDuplicate    = "duplicate"
	OrderUnauthorized = "unauthorized"
	OrderFailed       = "failed"
)

// OrderMetrics tracks order recorder writes.
type OrderMetrics struct {
	recorded *prometheus.CounterVec
}

// NewOrderMetrics registers the order metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	recorded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_orders_recorded_total",
		Help: "Order write attempts by payment status and result.",
	}, []string{"payment_status", "result"})
	reg.MustRegister(recorded)
	return &OrderMetrics{recorded: recorded}
}

// ObserveRecord counts one order write attempt.
func (m *OrderMetrics) ObserveRecord(paymentStatus, result string) {
	if m == nil || m.recorded == nil {
		return
	}
	m.recorded.WithLabelValues(normalizeLabel(paymentStatus), normalizeLabel(result)).Inc()
}
