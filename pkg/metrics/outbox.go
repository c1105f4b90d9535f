package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox row outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks rows drained by the outbox publisher.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	delay  prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threadline_outbox_events_total",
		Help: "Outbox rows handled by event type and outcome.",
	}, []string{"event_type", "outcome"})
	delay := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "threadline_outbox_publish_delay_seconds",
		Help:    "Time between an event being written to the outbox and its publish ack.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
	reg.MustRegister(events, delay)
	return &OutboxMetrics{events: events, delay: delay}
}

func (m *OutboxMetrics) ObserveEvent(eventType, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *OutboxMetrics) ObserveDelay(delay time.Duration) {
	if m == nil || m.delay == nil || delay < 0 {
		return
	}
	m.delay.Observe(delay.Seconds())
}
