package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertengine"

// Suppression reasons.
const (
	ReasonDedup     = "dedup"
	ReasonRateLimit = "rate_limit"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	alertsCreated      *prometheus.CounterVec
	alertsSuppressed   *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	escalations        prometheus.Counter
	openAlerts         prometheus.Gauge
	notifications      *prometheus.CounterVec
	evaluationErrors   *prometheus.CounterVec
	anomaliesDetected  *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	journalDropped     prometheus.Counter
	journalWriteErrors *prometheus.CounterVec
	ingestedSamples    *prometheus.CounterVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	f := promauto.With(registry)

	return &Metrics{
		registry: registry,
		alertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts created, by source.",
		}, []string{"source", "severity"}),
		alertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Triggers dropped before alert creation, by reason.",
		}, []string{"reason"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions, by target status.",
		}, []string{"status"}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "escalations_total",
			Help:      "Escalation notifications emitted.",
		}),
		openAlerts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "open",
			Help:      "Alerts currently active or acknowledged.",
		}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts, by channel, kind and result.",
		}, []string{"channel", "kind", "result"}),
		evaluationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluation_errors_total",
			Help:      "Rules skipped during evaluation, by reason.",
		}, []string{"reason"}),
		anomaliesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Anomalous samples found, by method.",
		}, []string{"method"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of periodic task runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		journalDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "dropped_total",
			Help:      "Lifecycle events dropped because the journal queue was full.",
		}),
		journalWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_errors_total",
			Help:      "Failed journal batch writes, by output.",
		}, []string{"output"}),
		ingestedSamples: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Metric samples read from the ingest queue, by result.",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AlertCreated(source, severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(source, severity).Inc()
	m.openAlerts.Inc()
}

func (m *Metrics) AlertSuppressed(reason string) {
	if m == nil {
		return
	}
	m.alertsSuppressed.WithLabelValues(reason).Inc()
}

// Transition records a lifecycle move; closing moves decrement the open gauge.
func (m *Metrics) Transition(status string, closed bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
	if closed {
		m.openAlerts.Dec()
	}
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) Delivery(channel, kind string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.notifications.WithLabelValues(channel, kind, result).Inc()
}

func (m *Metrics) EvaluationError(reason string) {
	if m == nil {
		return
	}
	m.evaluationErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) AnomaliesDetected(method string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anomaliesDetected.WithLabelValues(method).Add(float64(n))
}

func (m *Metrics) ObserveTask(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) JournalDropped() {
	if m == nil {
		return
	}
	m.journalDropped.Inc()
}

func (m *Metrics) JournalWriteError(output string) {
	if m == nil {
		return
	}
	m.journalWriteErrors.WithLabelValues(output).Inc()
}

// Ingested counts queue samples by result: recorded, invalid or failed.
func (m *Metrics) Ingested(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestedSamples.WithLabelValues(result).Add(float64(n))
}
