package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	workflowsTotal   *prometheus.CounterVec
	sessionConnected prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	workflows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "goalpool_workflows_total",
		Help: "Workflow executions by outcome",
	}, []string{"workflow", "status"})

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "goalpool_session_connected",
		Help: "1 while a wallet account is connected",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(workflows, connected)

	return &metricsRegistry{
		registry:         r,
		workflowsTotal:   workflows,
		sessionConnected: connected,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incWorkflow(workflow, status string) {
	m.workflowsTotal.WithLabelValues(workflow, status).Inc()
}

func (m *metricsRegistry) setConnected(connected bool) {
	if connected {
		m.sessionConnected.Set(1)
		return
	}
	m.sessionConnected.Set(0)
}
