package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analytics message outcomes.
const (
	AnalyticsHandled   = "handled"
	AnalyticsDuplicate = "duplicate"
	AnalyticsDropped   = "dropped"
	AnalyticsRetried   = "retried"
)

// AnalyticsMetrics tracks order events consumed by the analytics worker.
type AnalyticsMetrics struct {
	messages *prometheus.CounterVec
	lag      prometheus.Histogram
}

// NewAnalyticsMetrics registers the analytics worker metrics on the provided registerer.
func NewAnalyticsMetrics(reg prometheus.Registerer) *AnalyticsMetrics {
	if reg == nil {
		return &AnalyticsMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_analytics_messages_total",
		Help: "Order event deliveries by event type and outcome.",
	}, []string{"event_type", "outcome"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "threadline_analytics_event_lag_seconds",
		Help:    "Time from an order event occurring to its fact row being written.",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 3600},
	})
	reg.MustRegister(messages, lag)
	return &AnalyticsMetrics{messages: messages, lag: lag}
}

// ObserveMessage counts one delivery. eventType may be empty for undecodable messages.
func (m *AnalyticsMetrics) ObserveMessage(eventType, outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ObserveLag records how far behind the event stream the worker is.
func (m *AnalyticsMetrics) ObserveLag(lag time.Duration) {
	if m == nil || m.lag == nil || lag < 0 {
		return
	}
	m.lag.Observe(lag.Seconds())
}
