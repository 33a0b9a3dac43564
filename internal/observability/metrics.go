package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationBatches *prometheus.CounterVec
	TaskEvents          *prometheus.CounterVec
	ExecutorPanics      prometheus.Counter
	TaskDuration        prometheus.Histogram
	Heartbeats          *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of conversations with a live processing loop.",
		}),
		ConversationBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_batches_total",
			Help:      "Processed message batches by outcome.",
		}, []string{"outcome"}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		ExecutorPanics: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_panics_total",
			Help:      "Panics recovered inside task execution.",
		}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time from claim to terminal status in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		Heartbeats: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeat ticks by trigger source.",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveBatch(outcome string) {
	if m == nil {
		return
	}
	m.ConversationBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTaskDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveHeartbeat(source string) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(source).Inc()
}

func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.ExecutorPanics.Inc()
}

func (m *Metrics) ConversationLoopStarted() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationLoopStopped() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
