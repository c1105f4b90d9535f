package metrics

import "github.com/prometheus/client_golang/prometheus"

// Mirror results.
const (
	MirrorApplied = "applied"
	MirrorRetried = "retried"
	MirrorFailed  = "failed"
	MirrorDropped = "dropped"
	MirrorSkipped = "skipped"
)

// CartMetrics tracks session cart mutations and the per-user mirror.
type CartMetrics struct {
	mutations  *prometheus.CounterVec
	mirrorOps  *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_cart_mutations_total",
		Help: "Cart operations applied to session carts.",
	}, []string{"op", "result"})
	mirrorOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_cart_mirror_ops_total",
		Help: "Writes replicated to the per-user cart store.",
	}, []string{"op", "result"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "threadline_cart_mirror_queue_depth",
		Help: "Mirror writes waiting for a worker.",
	})
	reg.MustRegister(mutations, mirrorOps, queueDepth)
	return &CartMetrics{
		mutations:  mutations,
		mirrorOps:  mirrorOps,
		queueDepth: queueDepth,
	}
}

// ObserveMutation counts a session cart operation. result is "ok" or an error code.
func (m *CartMetrics) ObserveMutation(op, result string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

// ObserveMirror counts a mirror write outcome.
func (m *CartMetrics) ObserveMirror(op, result string) {
	if m == nil || m.mirrorOps == nil {
		return
	}
	m.mirrorOps.WithLabelValues(normalizeLabel(op), normalizeLabel(result)).Inc()
}

// QueueDelta moves the mirror queue depth gauge.
func (m *CartMetrics) QueueDelta(delta float64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(delta)
}
