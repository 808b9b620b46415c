package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records Pub/Sub message outcomes per consumer.
type WorkerMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewWorkerMetrics registers message-processing metrics on the provided registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_total",
		Help: "Processed Pub/Sub messages by consumer and outcome.",
	}, []string{"consumer", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_message_duration_seconds",
		Help:    "Message handling duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"consumer"})
	reg.MustRegister(processed, duration)
	return &WorkerMetrics{
		processed: processed,
		duration:  duration,
	}
}

// IncProcessed increments the message counter for the consumer/outcome pair.
func (w *WorkerMetrics) IncProcessed(consumer, outcome string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(consumer), normalizeLabel(outcome)).Inc()
}

// ObserveDuration records how long a message took to handle.
func (w *WorkerMetrics) ObserveDuration(consumer string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(consumer)).Observe(duration.Seconds())
}
