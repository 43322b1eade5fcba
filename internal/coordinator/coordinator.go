// Package coordinator drives approved plans through the dialogue engine,
// one subtask at a time, with per-subtask context isolation and resumable
// approval pauses.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maestro-agents/maestro/internal/conversation"
	"github.com/maestro-agents/maestro/internal/dialogue"
	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/internal/plan"
	"github.com/maestro-agents/maestro/pkg/models"
)

// resultPreviewLimit bounds the subtask result text propagated to
// dependents.
const resultPreviewLimit = 500

// upstreamFailureReason marks subtasks failed because a dependency failed.
const upstreamFailureReason = "upstream dependency failed"

// Dialogue is the slice of the dialogue engine the coordinator needs.
type Dialogue interface {
	Handle(ctx context.Context, req dialogue.Request) <-chan *models.StreamChunk
}

// Outcome is a human decision delivered to a paused plan.
type Outcome struct {
	Approved bool
	Feedback string
	// ToolCall carries the approved (possibly edited) call when the pause
	// was a tool approval.
	ToolCall *models.ToolCall
}

type subtaskOutcome int

const (
	outcomeDone subtaskOutcome = iota
	outcomeFailed
	outcomePaused
	outcomeAwaitingTool
)

// Coordinator executes plans. All entry points run inside the caller's
// per-conversation lock.
type Coordinator struct {
	plans         plan.Store
	conversations conversation.Store
	dialogue      Dialogue
	bus           *events.Bus
	model         string
	logger        *slog.Logger

	mu        sync.Mutex
	states    map[string]*plan.ExecutionState
	lastAgent map[string]models.AgentType
}

// New wires a coordinator.
func New(plans plan.Store, conversations conversation.Store, dlg Dialogue, bus *events.Bus, model string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		plans:         plans,
		conversations: conversations,
		dialogue:      dlg,
		bus:           bus,
		model:         model,
		logger:        logger.With("component", "coordinator"),
		states:        make(map[string]*plan.ExecutionState),
		lastAgent:     make(map[string]models.AgentType),
	}
}

// State returns the execution state machine for a plan, creating it in
// running on first use.
func (c *Coordinator) State(planID string) *plan.ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[planID]
	if !ok {
		s = plan.NewExecutionState(planID)
		c.states[planID] = s
	}
	return s
}

// ExecutePlan starts an approved plan and runs subtasks until the plan
// finishes, deadlocks, fails, or pauses on an approval.
func (c *Coordinator) ExecutePlan(ctx context.Context, sessionID, planID string) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		p, err := c.plans.Get(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("plan %s: %v", planID, err), true))
			return
		}
		if p.Status == models.PlanApproved {
			if err := p.Start(); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
			if err := c.plans.Save(ctx, p); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
		}
		c.runLoop(ctx, sessionID, planID, out)
	}()
	return out
}

// Resume delivers an approval decision to a paused plan. Approval walks the
// machine through resumed back to running and continues from the persisted
// resumption record; rejection cancels the plan with the feedback as
// reason.
func (c *Coordinator) Resume(ctx context.Context, sessionID, planID string, outcome Outcome) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		state := c.State(planID)
		p, err := c.plans.Get(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("plan %s: %v", planID, err), true))
			return
		}

		if !outcome.Approved {
			reason := outcome.Feedback
			if reason == "" {
				reason = "rejected by reviewer"
			}
			c.cancel(ctx, p, state, reason, out)
			return
		}

		if err := state.Transition(plan.ExecResumed, "approved"); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}
		if err := state.Transition(plan.ExecRunning, ""); err != nil {
			c.send(ctx, out, models.ErrorChunk(err.Error(), true))
			return
		}

		r, err := c.plans.GetResumption(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("no resumption record for plan %s", planID), true))
			return
		}

		if outcome.ToolCall != nil {
			// The approved call re-enters the history on top of the captured
			// snapshot, then goes to the executor cleared for execution. The
			// resumption record stays until the tool round-trip finishes so
			// AdvanceAfterTurn can roll the exchange back.
			if err := c.conversations.RestoreFromSnapshot(ctx, sessionID, r.Snapshot); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
			msg := models.Message{
				ID:             models.NewID(),
				ConversationID: sessionID,
				Role:           models.RoleAssistant,
				ToolCalls:      []models.ToolCall{*outcome.ToolCall},
				Timestamp:      time.Now(),
			}
			if err := c.conversations.AppendMessage(ctx, sessionID, msg); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
			c.send(ctx, out, models.ToolCallChunk(*outcome.ToolCall, false, true))
			return
		}

		c.plans.DeleteResumption(ctx, planID)
		c.runLoop(ctx, sessionID, planID, out)
	}()
	return out
}

// CancelPlan cancels an in-flight plan from the outside. A subtask whose
// tool call is already with the executor keeps running its round; its result
// is discarded along with the plan.
func (c *Coordinator) CancelPlan(ctx context.Context, sessionID, planID, reason string) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		if reason == "" {
			reason = "cancelled by user"
		}
		p, err := c.plans.Get(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("plan %s: %v", planID, err), true))
			return
		}
		c.cancel(ctx, p, c.State(planID), reason, out)
	}()
	return out
}

// cancel marks the plan cancelled, fails any running subtask, and consumes
// the resumption record. The confirmation is the stream's final chunk.
func (c *Coordinator) cancel(ctx context.Context, p *models.Plan, state *plan.ExecutionState, reason string, out chan<- *models.StreamChunk) {
	if err := state.Transition(plan.ExecCancelled, reason); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	if running := p.Subtask(p.CurrentSubtaskID); running != nil && running.Status == models.SubtaskRunning {
		p.MarkSubtask(running.ID, models.SubtaskFailed, reason)
	}
	if err := p.Cancel(reason); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	if err := c.plans.Save(ctx, p); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	c.plans.DeleteResumption(ctx, p.ID)
	c.send(ctx, out, models.AssistantChunk("Plan cancelled: "+reason, true))
}

// AdvanceAfterTurn records a finished subtask turn and continues the plan.
// The caller ran the post-tool-result dialogue itself; result is the turn's
// final assistant content.
func (c *Coordinator) AdvanceAfterTurn(ctx context.Context, sessionID, planID, result string) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)

		p, err := c.plans.Get(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("plan %s: %v", planID, err), true))
			return
		}
		running := p.Subtask(p.CurrentSubtaskID)
		if running != nil && running.Status == models.SubtaskRunning {
			// The tool exchange rolls back to the pre-subtask snapshot and
			// only the final assistant result stays in the history, the same
			// contract executeSubtask applies to tool-free subtasks.
			if r, err := c.plans.GetResumption(ctx, planID); err == nil {
				if err := c.conversations.RestoreFromSnapshot(ctx, sessionID, r.Snapshot); err != nil {
					c.logger.Error("snapshot restore failed", "session_id", sessionID, "error", err)
				}
				if result != "" {
					resultMsg := models.Message{
						ID:             models.NewID(),
						ConversationID: sessionID,
						Role:           models.RoleAssistant,
						Content:        result,
						Timestamp:      time.Now(),
					}
					if err := c.conversations.AppendMessage(ctx, sessionID, resultMsg); err != nil {
						c.logger.Error("failed to append subtask result", "session_id", sessionID, "error", err)
					}
				}
				c.plans.DeleteResumption(ctx, planID)
			}
			p.MarkSubtask(running.ID, models.SubtaskDone, truncatePreview(result))
			if err := c.plans.Save(ctx, p); err != nil {
				c.send(ctx, out, models.ErrorChunk(err.Error(), true))
				return
			}
			c.publish(ctx, events.NewSubtaskCompleted(sessionID, planID, running.ID, running.Result))
		}
		c.runLoop(ctx, sessionID, planID, out)
	}()
	return out
}

// runLoop executes ready subtasks serially until the plan reaches a
// terminal status or pauses.
func (c *Coordinator) runLoop(ctx context.Context, sessionID, planID string, out chan<- *models.StreamChunk) {
	state := c.State(planID)

	for {
		if ctx.Err() != nil {
			return
		}
		p, err := c.plans.Get(ctx, planID)
		if err != nil {
			c.send(ctx, out, models.ErrorChunk(fmt.Sprintf("plan %s: %v", planID, err), true))
			return
		}
		if p.Status.Terminal() {
			c.send(ctx, out, models.DoneChunk())
			return
		}

		ready := plan.GetReadySubtasks(p)
		if len(ready) == 0 {
			if p.PendingCount() == 0 && p.RunningCount() == 0 {
				c.completePlan(ctx, sessionID, p, state, out)
				return
			}
			if p.RunningCount() == 0 {
				c.failPlan(ctx, sessionID, p, state, "plan deadlocked: no subtask can become ready", out)
				return
			}
			// A running subtask is waiting for an external tool result; the
			// stream already carried its final chunk.
			return
		}

		switch c.executeSubtask(ctx, sessionID, p, ready[0], out) {
		case outcomeDone:
			continue
		case outcomeFailed:
			failed, _ := c.plans.Get(ctx, planID)
			c.propagateFailure(ctx, sessionID, failed, failed.CurrentSubtaskID)
			c.failPlan(ctx, sessionID, failed, state,
				fmt.Sprintf("subtask %s failed", failed.CurrentSubtaskID), out)
			return
		case outcomePaused, outcomeAwaitingTool:
			return
		}
	}
}

// executeSubtask runs one subtask inside a conversation snapshot.
func (c *Coordinator) executeSubtask(ctx context.Context, sessionID string, p *models.Plan, st *models.Subtask, out chan<- *models.StreamChunk) subtaskOutcome {
	p.MarkSubtask(st.ID, models.SubtaskRunning, "")
	if err := c.plans.Save(ctx, p); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return outcomeFailed
	}
	c.publish(ctx, events.NewSubtaskStarted(sessionID, p.ID, st.ID, st.Agent))

	snap, err := c.conversations.CreateSnapshot(ctx, sessionID)
	if err != nil {
		return c.markFailed(ctx, sessionID, p, st, nil, err.Error())
	}

	// Switching agents between subtasks strips stale tool exchanges before
	// new context is appended, so no orphaned tool_call_id reaches the LLM.
	c.mu.Lock()
	last := c.lastAgent[p.ID]
	c.lastAgent[p.ID] = st.Agent
	c.mu.Unlock()
	if last != "" && last != st.Agent {
		if _, err := c.conversations.ClearToolMessages(ctx, sessionID, last, st.Agent); err != nil {
			return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
		}
	}

	contextMsg := models.Message{
		ID:             models.NewID(),
		ConversationID: sessionID,
		Role:           models.RoleSystem,
		Content:        buildSubtaskContext(p, st),
		Timestamp:      time.Now(),
	}
	if err := c.conversations.AppendMessage(ctx, sessionID, contextMsg); err != nil {
		return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
	}

	conv, err := c.conversations.FindByID(ctx, sessionID)
	if err != nil {
		return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
	}

	stream := c.dialogue.Handle(ctx, dialogue.Request{
		ConversationID: sessionID,
		History:        conv.Messages,
		Agent:          st.Agent,
		Model:          c.model,
	})

	var lastContent string
	for chunk := range stream {
		switch chunk.Type {
		case models.ChunkAssistantMessage:
			lastContent = chunk.Content
			c.forward(ctx, out, chunk)

		case models.ChunkToolCall:
			if chunk.RequiresApproval {
				return c.pause(ctx, sessionID, p, st, snap, chunk, out)
			}
			// The executor owns the call now; the plan waits for the result.
			// The snapshot is persisted so the tool exchange rolls back once
			// the subtask finishes.
			if err := c.plans.SaveResumption(ctx, &plan.Resumption{
				PlanID:    p.ID,
				SubtaskID: st.ID,
				Snapshot:  snap,
				CreatedAt: time.Now(),
			}); err != nil {
				return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
			}
			c.send(ctx, out, chunk)
			return outcomeAwaitingTool

		case models.ChunkPlanApprovalRequired:
			return c.pause(ctx, sessionID, p, st, snap, chunk, out)

		case models.ChunkError:
			return c.markFailed(ctx, sessionID, p, st, snap, chunk.Message)

		default:
			c.forward(ctx, out, chunk)
		}
	}

	// The dialogue finished with a plain assistant message: the subtask is
	// done and the conversation rolls back to its snapshot, keeping only
	// the result.
	p.MarkSubtask(st.ID, models.SubtaskDone, truncatePreview(lastContent))
	if err := c.conversations.RestoreFromSnapshot(ctx, sessionID, snap); err != nil {
		c.logger.Error("snapshot restore failed", "session_id", sessionID, "error", err)
	}
	if lastContent != "" {
		resultMsg := models.Message{
			ID:             models.NewID(),
			ConversationID: sessionID,
			Role:           models.RoleAssistant,
			Content:        lastContent,
			Timestamp:      time.Now(),
		}
		if err := c.conversations.AppendMessage(ctx, sessionID, resultMsg); err != nil {
			c.logger.Error("failed to append subtask result", "session_id", sessionID, "error", err)
		}
	}
	if err := c.plans.Save(ctx, p); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return outcomeFailed
	}
	c.publish(ctx, events.NewSubtaskCompleted(sessionID, p.ID, st.ID, p.Subtask(st.ID).Result))
	return outcomeDone
}

// pause parks the plan on a human decision and persists the resumption
// record. The pausing chunk is re-emitted as the stream's final chunk.
func (c *Coordinator) pause(ctx context.Context, sessionID string, p *models.Plan, st *models.Subtask, snap *models.Snapshot, chunk *models.StreamChunk, out chan<- *models.StreamChunk) subtaskOutcome {
	state := c.State(p.ID)
	if err := state.Transition(plan.ExecWaitingApproval, "approval required for subtask "+st.ID); err != nil {
		return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
	}
	if err := c.plans.SaveResumption(ctx, &plan.Resumption{
		PlanID:    p.ID,
		SubtaskID: st.ID,
		Snapshot:  snap,
		CreatedAt: time.Now(),
	}); err != nil {
		return c.markFailed(ctx, sessionID, p, st, snap, err.Error())
	}

	final := *chunk
	final.IsFinal = true
	c.send(ctx, out, &final)
	return outcomePaused
}

func (c *Coordinator) markFailed(ctx context.Context, sessionID string, p *models.Plan, st *models.Subtask, snap *models.Snapshot, reason string) subtaskOutcome {
	p.MarkSubtask(st.ID, models.SubtaskFailed, reason)
	if snap != nil {
		if err := c.conversations.RestoreFromSnapshot(ctx, sessionID, snap); err != nil {
			c.logger.Error("snapshot restore failed", "session_id", sessionID, "error", err)
		}
	}
	if err := c.plans.Save(ctx, p); err != nil {
		c.logger.Error("failed to persist subtask failure", "plan_id", p.ID, "error", err)
	}
	c.publish(ctx, events.NewSubtaskFailed(sessionID, p.ID, st.ID, reason))
	return outcomeFailed
}

// propagateFailure marks every transitive dependent of the failed subtask
// as failed without executing it.
func (c *Coordinator) propagateFailure(ctx context.Context, sessionID string, p *models.Plan, failedID string) {
	for _, dependent := range plan.GetTransitiveDependents(p, failedID) {
		if dependent.Status == models.SubtaskDone {
			continue
		}
		dependent.Status = models.SubtaskFailed
		dependent.Error = upstreamFailureReason
		dependent.UpdatedAt = time.Now()
		c.publish(ctx, events.NewSubtaskFailed(sessionID, p.ID, dependent.ID, upstreamFailureReason))
	}
	if err := c.plans.Save(ctx, p); err != nil {
		c.logger.Error("failed to persist failure propagation", "plan_id", p.ID, "error", err)
	}
}

func (c *Coordinator) completePlan(ctx context.Context, sessionID string, p *models.Plan, state *plan.ExecutionState, out chan<- *models.StreamChunk) {
	if err := p.Complete(); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	if err := c.plans.Save(ctx, p); err != nil {
		c.send(ctx, out, models.ErrorChunk(err.Error(), true))
		return
	}
	if !state.Current.Terminal() {
		state.Transition(plan.ExecCompleted, "all subtasks done")
	}
	c.publish(ctx, events.NewPlanCompleted(sessionID, p.ID))
	c.send(ctx, out, models.DoneChunk())
}

func (c *Coordinator) failPlan(ctx context.Context, sessionID string, p *models.Plan, state *plan.ExecutionState, reason string, out chan<- *models.StreamChunk) {
	if !p.Status.Terminal() {
		if err := p.Fail(); err == nil {
			c.plans.Save(ctx, p)
		}
	}
	if !state.Current.Terminal() {
		state.Transition(plan.ExecFailed, reason)
	}
	c.publish(ctx, events.NewPlanFailed(sessionID, p.ID, reason))
	c.send(ctx, out, models.ErrorChunk(reason, true))
}

// forward re-emits a dialogue chunk on the outer stream with its final flag
// cleared; the coordinator owns stream termination.
func (c *Coordinator) forward(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	copied := *chunk
	copied.IsFinal = false
	c.send(ctx, out, &copied)
}

func (c *Coordinator) send(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func (c *Coordinator) publish(ctx context.Context, ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ctx, ev)
	}
}

// buildSubtaskContext formats the subtask description and the results of
// its direct dependencies into one system message.
func buildSubtaskContext(p *models.Plan, st *models.Subtask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current subtask (%s): %s", st.ID, st.Description)

	var withResults []*models.Subtask
	for _, dep := range st.Dependencies {
		if depTask := p.Subtask(dep); depTask != nil && depTask.Status == models.SubtaskDone {
			withResults = append(withResults, depTask)
		}
	}
	if len(withResults) > 0 {
		b.WriteString("\n\nResults from completed dependencies:")
		for _, dep := range withResults {
			fmt.Fprintf(&b, "\n- %s (%s): %s", dep.ID, dep.Description, truncatePreview(dep.Result))
		}
	}
	return b.String()
}

func truncatePreview(s string) string {
	if len(s) <= resultPreviewLimit {
		return s
	}
	return s[:resultPreviewLimit] + "..."
}
