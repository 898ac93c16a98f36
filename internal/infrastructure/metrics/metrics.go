package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/execution-hub/content-approval/internal/domain/notification"
	"github.com/execution-hub/content-approval/internal/domain/policy"
)

// Metrics holds the engine's Prometheus collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	timeouts      *prometheus.CounterVec
	scorerCalls   *prometheus.CounterVec
	scorerLatency *prometheus.HistogramVec
	notifications *prometheus.CounterVec
}

// New registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_approval_operations_total",
			Help: "Engine operations by name and result kind",
		}, []string{"operation", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_approval_transitions_total",
			Help: "Request status transitions",
		}, []string{"from", "to"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_approval_step_timeouts_total",
			Help: "Step timeouts handled by the scheduler, by action",
		}, []string{"action"}),
		scorerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_approval_policy_scorer_calls_total",
			Help: "Policy scorer calls by dimension and outcome",
		}, []string{"dimension", "outcome"}),
		scorerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "content_approval_policy_scorer_duration_seconds",
			Help:    "Policy scorer call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"dimension"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_approval_notifications_total",
			Help: "Notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations, m.transitions, m.timeouts, m.scorerCalls, m.scorerLatency, m.notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOperation(operation, result string) {
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveTimeout(action string) {
	m.timeouts.WithLabelValues(action).Inc()
}

// ObserveScore custom dimensions are collapsed into one label value.
func (m *Metrics) ObserveScore(dimension policy.Dimension, outcome string, elapsed time.Duration) {
	label := string(dimension)
	if dimension.IsCustom() {
		label = "custom"
	}
	m.scorerCalls.WithLabelValues(label, outcome).Inc()
	m.scorerLatency.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveNotification(channel notification.Channel, outcome string) {
	m.notifications.WithLabelValues(string(channel), outcome).Inc()
}
