package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/pkg/models"
)

func newCollector(t *testing.T) (*Collector, *Metrics) {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	return NewCollector(metrics), metrics
}

func TestCollectorRequestMetrics(t *testing.T) {
	c, m := newCollector(t)
	ctx := context.Background()

	c.Handle(ctx, events.NewRequestCompleted("conv-1", "corr-1", "gpt-4o", 2*time.Second, 100, 40))
	c.Handle(ctx, events.NewRequestCompleted("conv-1", "corr-2", "gpt-4o", time.Second, 50, 10))
	c.Handle(ctx, events.NewRequestFailed("conv-1", "corr-3", "gpt-4o", "boom"))

	expected := `
		# HELP maestro_requests_total Total number of dialogue turns by model and status
		# TYPE maestro_requests_total counter
		maestro_requests_total{model="gpt-4o",status="error"} 1
		maestro_requests_total{model="gpt-4o",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.RequestCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected request counter: %v", err)
	}

	tokens := `
		# HELP maestro_llm_tokens_total Total number of LLM tokens used by model and type
		# TYPE maestro_llm_tokens_total counter
		maestro_llm_tokens_total{model="gpt-4o",type="completion"} 50
		maestro_llm_tokens_total{model="gpt-4o",type="prompt"} 150
	`
	if err := testutil.CollectAndCompare(m.TokensUsed, strings.NewReader(tokens)); err != nil {
		t.Errorf("unexpected token counter: %v", err)
	}
}

func TestCollectorApprovalGauge(t *testing.T) {
	c, m := newCollector(t)
	ctx := context.Background()

	c.Handle(ctx, events.NewToolApprovalRequested("conv-1", "call_1", "write_file", "file write"))
	c.Handle(ctx, events.NewToolApprovalRequested("conv-1", "call_2", "execute_command", "shell"))
	if got := testutil.ToFloat64(m.PendingApprovals); got != 2 {
		t.Fatalf("pending approvals = %v", got)
	}

	c.Handle(ctx, events.NewHITLDecisionMade("conv-1", "call_1", models.RequestTool, models.DecisionApprove))
	if got := testutil.ToFloat64(m.PendingApprovals); got != 1 {
		t.Fatalf("pending approvals = %v", got)
	}

	decisions := `
		# HELP maestro_hitl_decisions_total Total number of human decisions by request type and decision
		# TYPE maestro_hitl_decisions_total counter
		maestro_hitl_decisions_total{decision="approve",request_type="tool"} 1
	`
	if err := testutil.CollectAndCompare(m.HITLDecisionCounter, strings.NewReader(decisions)); err != nil {
		t.Errorf("unexpected decision counter: %v", err)
	}
}

func TestCollectorPlanLifecycle(t *testing.T) {
	c, m := newCollector(t)
	ctx := context.Background()

	c.Handle(ctx, events.NewPlanCreated("conv-1", "p1", "goal", 3))
	c.Handle(ctx, events.NewPlanApproved("conv-1", "p1"))
	c.Handle(ctx, events.NewSubtaskStarted("conv-1", "p1", "s1", models.AgentCoder))
	c.Handle(ctx, events.NewSubtaskCompleted("conv-1", "p1", "s1", "done"))
	c.Handle(ctx, events.NewSubtaskFailed("conv-1", "p1", "s2", "disk full"))
	c.Handle(ctx, events.NewPlanFailed("conv-1", "p1", "subtask s2 failed"))

	plans := `
		# HELP maestro_plans_total Total number of plan transitions by status
		# TYPE maestro_plans_total counter
		maestro_plans_total{status="approved"} 1
		maestro_plans_total{status="created"} 1
		maestro_plans_total{status="failed"} 1
	`
	if err := testutil.CollectAndCompare(m.PlanCounter, strings.NewReader(plans)); err != nil {
		t.Errorf("unexpected plan counter: %v", err)
	}

	subtasks := `
		# HELP maestro_subtasks_total Total number of subtask transitions by status
		# TYPE maestro_subtasks_total counter
		maestro_subtasks_total{status="completed"} 1
		maestro_subtasks_total{status="failed"} 1
		maestro_subtasks_total{status="started"} 1
	`
	if err := testutil.CollectAndCompare(m.SubtaskCounter, strings.NewReader(subtasks)); err != nil {
		t.Errorf("unexpected subtask counter: %v", err)
	}
}

func TestCollectorAgentSwitches(t *testing.T) {
	c, m := newCollector(t)
	ctx := context.Background()

	c.Handle(ctx, events.NewAgentSwitched("conv-1", models.AgentOrchestrator, models.AgentCoder, "routing"))
	c.Handle(ctx, events.NewAgentSwitched("conv-1", models.AgentCoder, models.AgentDebug, "crash"))

	if count := testutil.CollectAndCount(m.AgentSwitchCounter); count != 2 {
		t.Fatalf("label combinations = %d", count)
	}
}
