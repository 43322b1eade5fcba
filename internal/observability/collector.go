package observability

import (
	"context"

	"github.com/maestro-agents/maestro/internal/events"
)

// Collector translates bus events into metric updates. Register it with
// Bus.SubscribeAll; it never returns an error.
type Collector struct {
	metrics *Metrics
}

// NewCollector creates a collector over the given instruments.
func NewCollector(metrics *Metrics) *Collector {
	return &Collector{metrics: metrics}
}

// Handle is the events.Handler fed by the bus.
func (c *Collector) Handle(_ context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case *events.RequestCompleted:
		c.metrics.RequestCounter.WithLabelValues(e.Model, "success").Inc()
		c.metrics.RequestDuration.WithLabelValues(e.Model).Observe(e.Duration.Seconds())
		if e.PromptTokens > 0 {
			c.metrics.TokensUsed.WithLabelValues(e.Model, "prompt").Add(float64(e.PromptTokens))
		}
		if e.CompletionTokens > 0 {
			c.metrics.TokensUsed.WithLabelValues(e.Model, "completion").Add(float64(e.CompletionTokens))
		}

	case *events.RequestFailed:
		c.metrics.RequestCounter.WithLabelValues(e.Model, "error").Inc()

	case *events.ToolApprovalRequested:
		c.metrics.ToolApprovalCounter.WithLabelValues(e.ToolName).Inc()
		c.metrics.PendingApprovals.Inc()

	case *events.HITLDecisionMade:
		c.metrics.HITLDecisionCounter.WithLabelValues(string(e.RequestType), string(e.Decision)).Inc()
		c.metrics.PendingApprovals.Dec()

	case *events.ValidationWarning:
		c.metrics.ValidationWarningCounter.Inc()

	case *events.SubtaskStarted:
		c.metrics.SubtaskCounter.WithLabelValues("started").Inc()

	case *events.SubtaskCompleted:
		c.metrics.SubtaskCounter.WithLabelValues("completed").Inc()

	case *events.SubtaskFailed:
		c.metrics.SubtaskCounter.WithLabelValues("failed").Inc()

	case *events.PlanCreated:
		c.metrics.PlanCounter.WithLabelValues("created").Inc()

	case *events.PlanApproved:
		c.metrics.PlanCounter.WithLabelValues("approved").Inc()

	case *events.PlanCompleted:
		c.metrics.PlanCounter.WithLabelValues("completed").Inc()

	case *events.PlanFailed:
		c.metrics.PlanCounter.WithLabelValues("failed").Inc()

	case *events.AgentSwitched:
		c.metrics.AgentSwitchCounter.WithLabelValues(string(e.From), string(e.To)).Inc()
	}
	return nil
}
