package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms the runtime reports.
//
// Everything is registered on a caller-supplied registry so tests can use an
// isolated one; NewMetrics(nil) registers on a fresh registry.
type Metrics struct {
	registry *prometheus.Registry

	// TurnsStarted counts turns by trigger (message|auto_analyze).
	TurnsStarted *prometheus.CounterVec

	// TurnsFinished counts turns by outcome (finalized|aborted|failed|capped).
	TurnsFinished *prometheus.CounterVec

	// ToolCalls counts tool invocations. Labels: tool, status (ok|error).
	ToolCalls *prometheus.CounterVec

	// LLMRequests counts LLM attempts. Labels: status (ok|error).
	LLMRequests *prometheus.CounterVec

	// QueryDuration measures sql_query latency in seconds.
	QueryDuration prometheus.Histogram

	// ActiveSockets gauges open websocket connections.
	ActiveSockets prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TurnsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabulant_turns_started_total",
			Help: "Turns started, by trigger.",
		}, []string{"trigger"}),
		TurnsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabulant_turns_finished_total",
			Help: "Turns finished, by outcome.",
		}, []string{"outcome"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabulant_tool_calls_total",
			Help: "Tool invocations, by tool name and status.",
		}, []string{"tool", "status"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tabulant_llm_requests_total",
			Help: "LLM request attempts, by status.",
		}, []string{"status"}),
		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabulant_query_duration_seconds",
			Help:    "sql_query execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
		ActiveSockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tabulant_active_sockets",
			Help: "Open websocket connections.",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
