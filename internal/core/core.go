// Package core exposes the three externally invoked use cases: process a
// user message, deliver a tool result, and apply an approval decision. Each
// flow holds its conversation's session lock end to end.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maestro-agents/maestro/internal/agents"
	"github.com/maestro-agents/maestro/internal/classifier"
	"github.com/maestro-agents/maestro/internal/conversation"
	"github.com/maestro-agents/maestro/internal/coordinator"
	"github.com/maestro-agents/maestro/internal/dialogue"
	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/internal/hitl"
	"github.com/maestro-agents/maestro/internal/plan"
	"github.com/maestro-agents/maestro/internal/sessions"
	"github.com/maestro-agents/maestro/pkg/models"
)

// CreatePlanTool is the control tool the planning turn is expected to call.
const CreatePlanTool = "create_plan"

// Classifier routes a user message to an agent or to the planning flow.
type Classifier interface {
	Classify(ctx context.Context, userMessage string) classifier.Result
}

// Dialogue is the slice of the dialogue engine the use cases need.
type Dialogue interface {
	Handle(ctx context.Context, req dialogue.Request) <-chan *models.StreamChunk
}

// PlanRunner is the slice of the plan coordinator the use cases need.
type PlanRunner interface {
	ExecutePlan(ctx context.Context, sessionID, planID string) <-chan *models.StreamChunk
	Resume(ctx context.Context, sessionID, planID string, outcome coordinator.Outcome) <-chan *models.StreamChunk
	AdvanceAfterTurn(ctx context.Context, sessionID, planID, result string) <-chan *models.StreamChunk
	CancelPlan(ctx context.Context, sessionID, planID, reason string) <-chan *models.StreamChunk
}

// Deps wires the collaborators of the use-case layer.
type Deps struct {
	Locks         *sessions.LockManager
	Conversations conversation.Store
	AgentStates   agents.Store
	Capabilities  *agents.Registry
	Classifier    Classifier
	Dialogue      Dialogue
	Planner       *plan.Planner
	Plans         plan.Store
	Runner        PlanRunner
	Approvals     *hitl.Manager
	Bus           *events.Bus
	Model         string
	// MaxMessages and MaxSwitches override the model defaults for newly
	// created sessions when positive.
	MaxMessages int
	MaxSwitches int
	Logger      *slog.Logger
}

// Core implements the use-case entry points.
type Core struct {
	locks         *sessions.LockManager
	conversations conversation.Store
	agentStates   agents.Store
	capabilities  *agents.Registry
	classifier    Classifier
	dialogue      Dialogue
	planner       *plan.Planner
	plans         plan.Store
	runner        PlanRunner
	approvals     *hitl.Manager
	bus           *events.Bus
	model         string
	maxMessages   int
	maxSwitches   int
	logger        *slog.Logger
}

// New builds the use-case layer from its dependencies.
func New(deps Deps) *Core {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{
		locks:         deps.Locks,
		conversations: deps.Conversations,
		agentStates:   deps.AgentStates,
		capabilities:  deps.Capabilities,
		classifier:    deps.Classifier,
		dialogue:      deps.Dialogue,
		planner:       deps.Planner,
		plans:         deps.Plans,
		runner:        deps.Runner,
		approvals:     deps.Approvals,
		bus:           deps.Bus,
		model:         deps.Model,
		maxMessages:   deps.MaxMessages,
		maxSwitches:   deps.MaxSwitches,
		logger:        logger.With("component", "core"),
	}
}

// ProcessMessage records a user message and routes it: forced agents and
// non-orchestrator agents answer directly, the orchestrator consults the
// classifier and either delegates to a single agent or starts a planning
// turn. An empty conversation id allocates a new conversation, announced by
// a session_info chunk.
func (c *Core) ProcessMessage(ctx context.Context, conversationID, userMessage string, forcedAgent models.AgentType) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		placeholder := conversationID == ""
		if placeholder {
			conversationID = models.NewID()
		}

		release, err := c.locks.Acquire(ctx, conversationID, "process_message", 0)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		defer release()

		if placeholder {
			c.send(ctx, out, models.SessionInfoChunk(conversationID))
		}

		state, err := c.ensureSession(ctx, conversationID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		userMsg := models.Message{
			ID:             models.NewID(),
			ConversationID: conversationID,
			Role:           models.RoleUser,
			Content:        userMessage,
			Timestamp:      time.Now(),
		}
		if err := c.conversations.AppendMessage(ctx, conversationID, userMsg); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		if forcedAgent != "" && forcedAgent != state.CurrentType {
			if _, err := c.capabilities.Get(forcedAgent); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
			if err := c.switchAgent(ctx, state, forcedAgent, "requested by client", ""); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
		}

		if state.CurrentType == models.AgentOrchestrator && forcedAgent == "" {
			verdict := c.classifier.Classify(ctx, userMessage)
			if !verdict.IsAtomic {
				c.runPlanningTurn(ctx, conversationID, out)
				return
			}
			target := agentForTarget(verdict.TargetAgent)
			if target != state.CurrentType {
				if err := c.switchAgent(ctx, state, target, verdict.Reason, verdict.Confidence); err != nil {
					c.send(ctx, out, models.ErrorChunk(err.Error(), true))
					return
				}
			}
		}

		c.runDialogueTurn(ctx, conversationID, state, out)
	}()
	return out
}

// ProcessToolResult appends an executed tool's outcome and runs another
// dialogue turn so the model consumes it. When an in-progress plan is
// waiting on this result, the turn's final content completes the current
// subtask and the plan continues.
func (c *Core) ProcessToolResult(ctx context.Context, conversationID string, event models.ToolResultEvent) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		release, err := c.locks.Acquire(ctx, conversationID, "tool_result", 0)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		defer release()

		res, err := event.Normalize()
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		conv, err := c.conversations.FindByID(ctx, conversationID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		outstanding := conv.LastToolCall()
		if outstanding == nil || outstanding.ID != event.CallID {
			c.send(ctx, out, models.ErrorChunk(
				fmt.Sprintf("no outstanding tool call %s", event.CallID), true))
			return
		}

		name := res.ToolName
		if name == "" {
			name = outstanding.Name
		}
		toolMsg := models.Message{
			ID:             models.NewID(),
			ConversationID: conversationID,
			Role:           models.RoleTool,
			Content:        res.Content,
			ToolCallID:     res.ToolCallID,
			Name:           name,
			Timestamp:      time.Now(),
		}
		if err := c.conversations.AppendMessage(ctx, conversationID, toolMsg); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		state, err := c.agentStates.GetByConversation(ctx, conversationID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		chunks, err := c.collectTurn(ctx, conversationID, state, nil)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		active, err := c.plans.FindActiveByConversation(ctx, conversationID)
		final := chunks[len(chunks)-1]
		advancing := err == nil && active.Status == models.PlanInProgress &&
			final.Type == models.ChunkAssistantMessage

		for _, chunk := range chunks {
			if advancing {
				c.forward(ctx, out, chunk)
			} else {
				c.send(ctx, out, chunk)
			}
		}
		if advancing {
			c.pipe(ctx, out, c.runner.AdvanceAfterTurn(ctx, conversationID, active.ID, final.Content))
		}
	}()
	return out
}

// CancelPlan cancels the conversation's active plan. Unlike approval
// rejection it needs no pending request, so a plan can be stopped at any
// point between turns.
func (c *Core) CancelPlan(ctx context.Context, conversationID, reason string) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		release, err := c.locks.Acquire(ctx, conversationID, "cancel_plan", 0)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		defer release()

		active, err := c.plans.FindActiveByConversation(ctx, conversationID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(
				"no active plan for conversation "+conversationID, true))
			return
		}
		c.pipe(ctx, out, c.runner.CancelPlan(ctx, conversationID, active.ID, reason))
	}()
	return out
}

// HandleApproval applies a human decision to a pending approval request.
func (c *Core) HandleApproval(ctx context.Context, conversationID string, input models.ApprovalDecisionInput) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		release, err := c.locks.Acquire(ctx, conversationID, "handle_approval", 0)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		defer release()

		req, err := c.approvals.GetPending(ctx, input.ApprovalRequestID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		switch req.RequestType {
		case models.RequestPlan:
			c.decidePlan(ctx, conversationID, req, input, out)
		default:
			c.decideTool(ctx, conversationID, req, input, out)
		}
	}()
	return out
}

func (c *Core) decidePlan(ctx context.Context, conversationID string, req *models.ApprovalRequest, input models.ApprovalDecisionInput, out chan<- *models.StreamChunk) {
	planID, _ := req.Details["plan_id"].(string)
	if planID == "" {
		planID = req.RequestID
	}

	if input.Decision == models.DecisionReject {
		if _, err := c.approvals.Reject(ctx, req.RequestID, input.Feedback); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		reason := input.Feedback
		if reason == "" {
			reason = "rejected by reviewer"
		}
		if p, err := c.plans.Get(ctx, planID); err == nil {
			if err := p.Cancel(reason); err == nil {
				if err := c.plans.Save(ctx, p); err != nil {
					c.logger.Error("failed to persist plan cancellation", "plan_id", planID, "error", err)
				}
			}
		}
		c.send(ctx, out, models.AssistantChunk("Plan rejected: "+reason, true))
		return
	}

	if _, err := c.approvals.Approve(ctx, req.RequestID, input.ModifiedArguments); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	p, err := c.plans.Get(ctx, planID)
	if err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	if p.Status == models.PlanDraft {
		if err := p.Approve(); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		if err := c.plans.Save(ctx, p); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
	}
	c.publish(ctx, events.NewPlanApproved(conversationID, planID))
	c.pipe(ctx, out, c.runner.ExecutePlan(ctx, conversationID, planID))
}

func (c *Core) decideTool(ctx context.Context, conversationID string, req *models.ApprovalRequest, input models.ApprovalDecisionInput, out chan<- *models.StreamChunk) {
	pausedPlan, paused := c.pausedPlan(ctx, conversationID)

	if input.Decision == models.DecisionReject {
		if _, err := c.approvals.Reject(ctx, req.RequestID, input.Feedback); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		feedback := input.Feedback
		if feedback == "" {
			feedback = "rejected by user"
		}
		if paused {
			c.pipe(ctx, out, c.runner.Resume(ctx, conversationID, pausedPlan,
				coordinator.Outcome{Approved: false, Feedback: feedback}))
			return
		}

		// The rejected call enters the history with a synthetic result so
		// the model sees the feedback on its next turn.
		content := "Tool call rejected by user: " + feedback
		if err := c.appendToolExchange(ctx, conversationID, req, content); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		c.send(ctx, out, models.ToolResultChunk(req.RequestID, content, true))
		return
	}

	args := req.Details
	if input.Decision == models.DecisionEdit && input.ModifiedArguments != nil {
		args = input.ModifiedArguments
	}
	if _, err := c.approvals.Approve(ctx, req.RequestID, input.ModifiedArguments); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	call := models.ToolCall{ID: req.RequestID, Name: req.Subject, Arguments: args}

	if paused {
		c.pipe(ctx, out, c.runner.Resume(ctx, conversationID, pausedPlan,
			coordinator.Outcome{Approved: true, ToolCall: &call}))
		return
	}

	msg := models.Message{
		ID:             models.NewID(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		ToolCalls:      []models.ToolCall{call},
		Timestamp:      time.Now(),
	}
	if err := c.conversations.AppendMessage(ctx, conversationID, msg); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	c.send(ctx, out, models.ToolCallChunk(call, false, true))
}

// pausedPlan reports whether the conversation's in-progress plan is parked
// on a resumption record.
func (c *Core) pausedPlan(ctx context.Context, conversationID string) (string, bool) {
	active, err := c.plans.FindActiveByConversation(ctx, conversationID)
	if err != nil || active.Status != models.PlanInProgress {
		return "", false
	}
	if _, err := c.plans.GetResumption(ctx, active.ID); err != nil {
		return "", false
	}
	return active.ID, true
}

// appendToolExchange persists an assistant tool-call message and its
// tool-role answer in one go, keeping the history well formed.
func (c *Core) appendToolExchange(ctx context.Context, conversationID string, req *models.ApprovalRequest, result string) error {
	now := time.Now()
	call := models.Message{
		ID:             models.NewID(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		ToolCalls:      []models.ToolCall{{ID: req.RequestID, Name: req.Subject, Arguments: req.Details}},
		Timestamp:      now,
	}
	if err := c.conversations.AppendMessage(ctx, conversationID, call); err != nil {
		return err
	}
	answer := models.Message{
		ID:             models.NewID(),
		ConversationID: conversationID,
		Role:           models.RoleTool,
		Content:        result,
		ToolCallID:     req.RequestID,
		Name:           req.Subject,
		Timestamp:      now,
	}
	return c.conversations.AppendMessage(ctx, conversationID, answer)
}

// ensureSession loads or creates the conversation and its agent state.
func (c *Core) ensureSession(ctx context.Context, conversationID string) (*models.AgentState, error) {
	if _, err := c.conversations.FindByID(ctx, conversationID); err != nil {
		if !errors.Is(err, conversation.ErrNotFound) {
			return nil, err
		}
		conv := models.NewConversation(conversationID)
		if c.maxMessages > 0 {
			conv.MaxMessages = c.maxMessages
		}
		if err := c.conversations.Create(ctx, conv); err != nil {
			return nil, err
		}
	}

	state, err := c.agentStates.GetByConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, agents.ErrNotFound) {
			return nil, err
		}
		state = models.NewAgentState(conversationID, models.AgentOrchestrator)
		if c.maxSwitches > 0 {
			state.MaxSwitches = c.maxSwitches
		}
		if err := c.agentStates.Create(ctx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// switchAgent advances the agent state, strips stale tool exchanges from the
// history, and announces the switch on the bus.
func (c *Core) switchAgent(ctx context.Context, state *models.AgentState, to models.AgentType, reason, confidence string) error {
	from := state.CurrentType
	if err := state.Switch(to, reason, confidence); err != nil {
		return err
	}
	if err := c.agentStates.Save(ctx, state); err != nil {
		return err
	}
	if _, err := c.conversations.ClearToolMessages(ctx, state.ConversationID, from, to); err != nil {
		return err
	}
	c.publish(ctx, events.NewAgentSwitched(state.ConversationID, from, to, reason))
	return nil
}

// runDialogueTurn runs one turn with the current agent and forwards its
// chunks. An agent_switch chunk is applied before it is forwarded.
func (c *Core) runDialogueTurn(ctx context.Context, conversationID string, state *models.AgentState, out chan<- *models.StreamChunk) {
	chunks, err := c.collectTurn(ctx, conversationID, state, nil)
	if err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	for _, chunk := range chunks {
		c.send(ctx, out, chunk)
	}
}

// collectTurn invokes the dialogue engine and gathers the turn's chunks,
// applying agent-switch side effects as they appear.
func (c *Core) collectTurn(ctx context.Context, conversationID string, state *models.AgentState, allowedTools []string) ([]*models.StreamChunk, error) {
	conv, err := c.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	stream := c.dialogue.Handle(ctx, dialogue.Request{
		ConversationID: conversationID,
		History:        conv.Messages,
		Agent:          state.CurrentType,
		Model:          c.model,
		AllowedTools:   allowedTools,
		CorrelationID:  models.NewID(),
	})

	var chunks []*models.StreamChunk
	for chunk := range stream {
		if chunk.Type == models.ChunkAgentSwitch {
			if err := c.switchAgent(ctx, state, chunk.TargetAgent, chunk.Reason, ""); err != nil {
				return nil, err
			}
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, errors.New("dialogue turn produced no chunks")
	}
	return chunks, nil
}

// runPlanningTurn asks the orchestrator to decompose the request with the
// create_plan tool, then registers the resulting draft for approval.
func (c *Core) runPlanningTurn(ctx context.Context, conversationID string, out chan<- *models.StreamChunk) {
	conv, err := c.conversations.FindByID(ctx, conversationID)
	if err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}

	stream := c.dialogue.Handle(ctx, dialogue.Request{
		ConversationID: conversationID,
		History:        conv.Messages,
		Agent:          models.AgentOrchestrator,
		Model:          c.model,
		AllowedTools:   []string{CreatePlanTool},
		CorrelationID:  models.NewID(),
	})
	for chunk := range stream {
		if chunk.Type == models.ChunkToolCall && chunk.ToolName == CreatePlanTool {
			c.handleCreatePlan(ctx, conversationID, chunk.Arguments, out)
			return
		}
		c.send(ctx, out, chunk)
	}
}

func (c *Core) handleCreatePlan(ctx context.Context, conversationID string, args map[string]any, out chan<- *models.StreamChunk) {
	goal, specs, err := parsePlanArgs(args)
	if err != nil {
		c.send(ctx, out, models.ErrorChunk("invalid plan: "+err.Error(), true))
		return
	}

	p, err := c.planner.CreatePlan(conversationID, goal, specs)
	if err != nil {
		c.send(ctx, out, models.ErrorChunk("invalid plan: "+err.Error(), true))
		return
	}
	if err := c.plans.Create(ctx, p); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	c.publish(ctx, events.NewPlanCreated(conversationID, p.ID, goal, len(p.Subtasks)))

	details := map[string]any{"plan_id": p.ID, "goal": goal, "subtasks": len(p.Subtasks)}
	if err := c.approvals.AddPending(ctx, p.ID, models.RequestPlan, goal,
		conversationID, details, "plan requires approval before execution"); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	c.send(ctx, out, models.PlanApprovalChunk(p.ID, planSummary(p), true))
}

// parsePlanArgs converts create_plan tool arguments into planner input.
func parsePlanArgs(args map[string]any) (string, []plan.SubtaskSpec, error) {
	goal, _ := args["goal"].(string)
	if strings.TrimSpace(goal) == "" {
		return "", nil, errors.New("missing goal")
	}
	raw, ok := args["subtasks"].([]any)
	if !ok || len(raw) == 0 {
		return "", nil, errors.New("missing subtasks")
	}

	specs := make([]plan.SubtaskSpec, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return "", nil, fmt.Errorf("subtask %d is not an object", i)
		}
		id, _ := m["id"].(string)
		description, _ := m["description"].(string)
		agent, _ := m["agent"].(string)

		var deps []string
		if rawDeps, ok := m["dependencies"].([]any); ok {
			for _, d := range rawDeps {
				if dep, ok := d.(string); ok {
					deps = append(deps, dep)
				}
			}
		}
		estimated, _ := m["estimated_time"].(string)

		specs = append(specs, plan.SubtaskSpec{
			ID:            id,
			Description:   description,
			Agent:         models.AgentType(agent),
			Dependencies:  deps,
			EstimatedTime: estimated,
		})
	}
	return goal, specs, nil
}

// planSummary formats the plan for the approval prompt shown to the user.
func planSummary(p *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s", p.Goal)
	for i, st := range p.Subtasks {
		fmt.Fprintf(&b, "\n%d. [%s] %s", i+1, st.Agent, st.Description)
		if len(st.Dependencies) > 0 {
			fmt.Fprintf(&b, " (after %s)", strings.Join(st.Dependencies, ", "))
		}
	}
	return b.String()
}

// agentForTarget maps a classifier target to the agent that handles it.
func agentForTarget(target string) models.AgentType {
	switch target {
	case classifier.TargetDebug:
		return models.AgentDebug
	case classifier.TargetExplain:
		return models.AgentAsk
	default:
		return models.AgentCoder
	}
}

func (c *Core) pipe(ctx context.Context, out chan<- *models.StreamChunk, in <-chan *models.StreamChunk) {
	for chunk := range in {
		c.send(ctx, out, chunk)
	}
}

// forward re-emits a chunk with its final flag cleared; the plan coordinator
// owns stream termination when a plan is advancing.
func (c *Core) forward(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	copied := *chunk
	copied.IsFinal = false
	c.send(ctx, out, &copied)
}

func (c *Core) send(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func (c *Core) publish(ctx context.Context, ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ctx, ev)
	}
}
