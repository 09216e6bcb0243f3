package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the runtime.
type Metrics struct {
	registry *prometheus.Registry

	// Process metrics
	AgentsSpawnedTotal   prometheus.Counter
	AgentsActive         prometheus.Gauge
	ProcessCrashesTotal  prometheus.Counter
	LimitBreachesTotal   *prometheus.CounterVec
	ProcessRestartsTotal prometheus.Counter

	// Task metrics
	TasksExecutedTotal *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec

	// Tool call metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AgentsSpawnedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_agents_spawned_total",
				Help: "Total number of agent processes spawned",
			},
		),
		AgentsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_agents_active",
				Help: "Number of currently registered agents",
			},
		),
		ProcessCrashesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_process_crashes_total",
				Help: "Total number of agent process crashes detected",
			},
		),
		LimitBreachesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_limit_breaches_total",
				Help: "Total number of resource limit breaches",
			},
			[]string{"resource"},
		),
		ProcessRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_process_restarts_total",
				Help: "Total number of automatic agent restarts",
			},
		),

		TasksExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tasks_executed_total",
				Help: "Total number of tasks executed",
			},
			[]string{"agent_type", "outcome"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_task_duration_seconds",
				Help:    "Duration of task executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_type"},
		),

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_tool_calls_total",
				Help: "Total number of tool calls issued",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_sessions_active",
				Help: "Number of currently open protocol sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_sessions_total",
				Help: "Total number of protocol sessions created",
			},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.AgentsSpawnedTotal)
	m.registry.MustRegister(m.AgentsActive)
	m.registry.MustRegister(m.ProcessCrashesTotal)
	m.registry.MustRegister(m.LimitBreachesTotal)
	m.registry.MustRegister(m.ProcessRestartsTotal)

	m.registry.MustRegister(m.TasksExecutedTotal)
	m.registry.MustRegister(m.TaskDuration)

	m.registry.MustRegister(m.ToolCallsTotal)
	m.registry.MustRegister(m.ToolCallDuration)

	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
}

// Handler returns an HTTP handler for the metrics endpoint. The runtime
// itself never serves it; the monitoring layer mounts it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
