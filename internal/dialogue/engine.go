// Package dialogue drives one streaming turn against the LLM: resolve tools,
// call the model, validate the reply, and emit chunks to the gateway.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestro-agents/maestro/internal/agents"
	"github.com/maestro-agents/maestro/internal/conversation"
	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/internal/hitl"
	"github.com/maestro-agents/maestro/internal/infra"
	"github.com/maestro-agents/maestro/internal/llm"
	"github.com/maestro-agents/maestro/internal/tools"
	"github.com/maestro-agents/maestro/pkg/models"
)

// SwitchModeTool is the control tool that requests an agent change instead
// of host-side execution.
const SwitchModeTool = "switch_mode"

// circuitOpenMessage is the user-facing text for a rejected call while the
// breaker is open.
const circuitOpenMessage = "Circuit breaker is OPEN"

// fileWriteArgKeys names the argument fields that carry a writable path for
// each file-mutating tool.
var fileWriteArgKeys = map[string][]string{
	"write_file":       {"path"},
	"delete_file":      {"path"},
	"create_directory": {"path"},
	"move_file":        {"source", "destination"},
}

// Request describes one dialogue invocation.
type Request struct {
	ConversationID string
	History        []models.Message
	Agent          models.AgentType
	Model          string
	// AllowedTools overrides the agent's capability set when non-nil.
	AllowedTools  []string
	CorrelationID string
}

// Engine runs dialogue turns. One invocation produces an ordered chunk
// stream whose last chunk carries IsFinal.
type Engine struct {
	conversations conversation.Store
	agents        *agents.Registry
	tools         *tools.Registry
	client        llm.Client
	processor     *llm.Processor
	approvals     *hitl.Manager
	bus           *events.Bus
	logger        *slog.Logger
}

// NewEngine wires a dialogue engine.
func NewEngine(
	conversations conversation.Store,
	agentRegistry *agents.Registry,
	toolRegistry *tools.Registry,
	client llm.Client,
	processor *llm.Processor,
	approvals *hitl.Manager,
	bus *events.Bus,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		conversations: conversations,
		agents:        agentRegistry,
		tools:         toolRegistry,
		client:        client,
		processor:     processor,
		approvals:     approvals,
		bus:           bus,
		logger:        logger.With("component", "dialogue"),
	}
}

// Handle runs one turn. The returned channel is closed after the final
// chunk; the caller runs inside the per-conversation lock.
func (e *Engine) Handle(ctx context.Context, req Request) <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, 8)
	go func() {
		defer close(out)
		e.run(ctx, req, out)
	}()
	return out
}

func (e *Engine) run(ctx context.Context, req Request, out chan<- *models.StreamChunk) {
	start := time.Now()
	e.publish(ctx, events.NewRequestStarted(req.ConversationID, req.CorrelationID, req.Model))

	allowed := req.AllowedTools
	if allowed == nil {
		allowed = e.agents.AllowedTools(req.Agent)
	}
	specs := e.tools.Filter(allowed)

	resp, err := e.client.ChatCompletion(ctx, req.Model, req.History, specs)
	if err != nil {
		e.fail(ctx, req, out, err)
		return
	}

	processed := e.processor.Process(resp)
	for _, warning := range processed.ValidationWarnings {
		e.publish(ctx, events.NewValidationWarning(req.ConversationID, warning))
	}

	if tc := processed.ToolCall(); tc != nil {
		e.handleToolCall(ctx, req, out, processed, *tc)
		return
	}

	msg := models.Message{
		ID:             models.NewID(),
		ConversationID: req.ConversationID,
		Role:           models.RoleAssistant,
		Content:        processed.Content,
		Timestamp:      time.Now(),
	}
	if err := e.conversations.AppendMessage(ctx, req.ConversationID, msg); err != nil {
		e.fail(ctx, req, out, fmt.Errorf("failed to persist assistant message: %w", err))
		return
	}

	e.send(ctx, out, models.AssistantChunk(processed.Content, true))
	e.publish(ctx, events.NewRequestCompleted(req.ConversationID, req.CorrelationID, req.Model,
		time.Since(start), processed.Usage.PromptTokens, processed.Usage.CompletionTokens))
}

func (e *Engine) handleToolCall(ctx context.Context, req Request, out chan<- *models.StreamChunk, processed *llm.ProcessedResponse, tc models.ToolCall) {
	if !e.agents.CanUseTool(req.Agent, tc.Name) {
		e.send(ctx, out, models.ErrorChunk(
			fmt.Sprintf("agent %s is not allowed to use tool %s", req.Agent, tc.Name), true))
		return
	}

	for _, key := range fileWriteArgKeys[tc.Name] {
		path, _ := tc.Arguments[key].(string)
		if path == "" {
			continue
		}
		if !e.agents.CanEditFile(req.Agent, path) {
			e.send(ctx, out, models.ErrorChunk(
				fmt.Sprintf("agent %s may not modify %s", req.Agent, path), true))
			return
		}
	}

	if err := e.tools.ValidateCall(tc); err != nil {
		e.send(ctx, out, models.ErrorChunk(
			fmt.Sprintf("invalid call to %s: %v", tc.Name, err), true))
		return
	}

	if tc.Name == SwitchModeTool {
		e.handleSwitchMode(ctx, req, out, tc)
		return
	}

	// Other internal tools (create_plan) are consumed by the use-case layer
	// and never enter the history.
	if spec, ok := e.tools.Get(tc.Name); ok && spec.Mode == tools.ModeInternal {
		e.send(ctx, out, models.ToolCallChunk(tc, false, true))
		return
	}

	if processed.RequiresApproval {
		if err := e.approvals.AddPending(ctx, tc.ID, models.RequestTool, tc.Name,
			req.ConversationID, tc.Arguments, processed.ApprovalReason); err != nil {
			e.fail(ctx, req, out, fmt.Errorf("failed to register approval: %w", err))
			return
		}
		e.send(ctx, out, models.ToolCallChunk(tc, true, true))
		return
	}

	// The assistant message is persisted before the chunk leaves so the
	// eventual tool result always finds its tool_calls counterpart.
	msg := models.Message{
		ID:             models.NewID(),
		ConversationID: req.ConversationID,
		Role:           models.RoleAssistant,
		Content:        processed.Content,
		ToolCalls:      []models.ToolCall{tc},
		Timestamp:      time.Now(),
	}
	if err := e.conversations.AppendMessage(ctx, req.ConversationID, msg); err != nil {
		e.fail(ctx, req, out, fmt.Errorf("failed to persist tool call: %w", err))
		return
	}
	e.send(ctx, out, models.ToolCallChunk(tc, false, true))
}

// handleSwitchMode emits an agent_switch chunk. Nothing is persisted; the
// use-case layer applies the switch and clears tool messages.
func (e *Engine) handleSwitchMode(ctx context.Context, req Request, out chan<- *models.StreamChunk, tc models.ToolCall) {
	target, _ := tc.Arguments["target_agent"].(string)
	reason, _ := tc.Arguments["reason"].(string)

	targetType := models.AgentType(target)
	if !e.agents.CanSwitch(req.Agent, targetType) {
		e.send(ctx, out, models.ErrorChunk(
			fmt.Sprintf("agent %s cannot switch to %s", req.Agent, target), true))
		return
	}
	e.send(ctx, out, models.AgentSwitchChunk(targetType, reason, true))
}

func (e *Engine) fail(ctx context.Context, req Request, out chan<- *models.StreamChunk, err error) {
	e.logger.Error("dialogue turn failed",
		"conversation_id", req.ConversationID,
		"correlation_id", req.CorrelationID,
		"error", err)
	e.publish(ctx, events.NewRequestFailed(req.ConversationID, req.CorrelationID, req.Model, err.Error()))

	message := err.Error()
	if errors.Is(err, infra.ErrCircuitOpen) {
		message = circuitOpenMessage
	}
	e.send(ctx, out, models.ErrorChunk(message, true))
}

func (e *Engine) send(ctx context.Context, out chan<- *models.StreamChunk, chunk *models.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ctx, ev)
	}
}
