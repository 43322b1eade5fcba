// Package observability feeds Prometheus metrics from the event bus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments of the execution core.
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	bus.SubscribeAll("metrics", observability.NewCollector(metrics).Handle)
type Metrics struct {
	// RequestDuration measures dialogue turn latency in seconds.
	// Labels: model
	RequestDuration *prometheus.HistogramVec

	// RequestCounter counts dialogue turns by model and status.
	// Labels: model, status (success|error)
	RequestCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption per model.
	// Labels: model, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// ToolApprovalCounter counts tool calls parked on human approval.
	// Labels: tool_name
	ToolApprovalCounter *prometheus.CounterVec

	// HITLDecisionCounter counts human decisions by kind and outcome.
	// Labels: request_type (tool|plan), decision (approve|reject|edit)
	HITLDecisionCounter *prometheus.CounterVec

	// PendingApprovals is a gauge of currently pending approval requests.
	PendingApprovals prometheus.Gauge

	// SubtaskCounter counts subtask outcomes.
	// Labels: status (started|completed|failed)
	SubtaskCounter *prometheus.CounterVec

	// PlanCounter counts plan lifecycle transitions.
	// Labels: status (created|approved|completed|failed)
	PlanCounter *prometheus.CounterVec

	// AgentSwitchCounter counts agent changes.
	// Labels: from, to
	AgentSwitchCounter *prometheus.CounterVec

	// ValidationWarningCounter counts tolerated provider-contract violations.
	ValidationWarningCounter prometheus.Counter
}

// NewMetrics creates and registers the instruments. A nil registerer uses
// the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maestro_request_duration_seconds",
				Help:    "Duration of dialogue turns in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_requests_total",
				Help: "Total number of dialogue turns by model and status",
			},
			[]string{"model", "status"},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_llm_tokens_total",
				Help: "Total number of LLM tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		ToolApprovalCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_tool_approvals_total",
				Help: "Total number of tool calls paused on human approval",
			},
			[]string{"tool_name"},
		),

		HITLDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_hitl_decisions_total",
				Help: "Total number of human decisions by request type and decision",
			},
			[]string{"request_type", "decision"},
		),

		PendingApprovals: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "maestro_pending_approvals",
				Help: "Current number of pending approval requests",
			},
		),

		SubtaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_subtasks_total",
				Help: "Total number of subtask transitions by status",
			},
			[]string{"status"},
		),

		PlanCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_plans_total",
				Help: "Total number of plan transitions by status",
			},
			[]string{"status"},
		),

		AgentSwitchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestro_agent_switches_total",
				Help: "Total number of agent switches",
			},
			[]string{"from", "to"},
		),

		ValidationWarningCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "maestro_validation_warnings_total",
				Help: "Total number of tolerated provider-contract violations",
			},
		),
	}
}
