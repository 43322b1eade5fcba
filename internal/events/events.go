// Package events provides the in-process publish/subscribe bus used for
// audit, metrics, and cross-component reactions.
package events

import (
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// Type identifies an event kind on the bus.
type Type string

const (
	TypeRequestStarted        Type = "request_started"
	TypeRequestCompleted      Type = "request_completed"
	TypeRequestFailed         Type = "request_failed"
	TypeToolApprovalRequested Type = "tool_approval_required"
	TypeHITLDecisionMade      Type = "hitl_decision_made"
	TypeValidationWarning     Type = "validation_warning"
	TypeSubtaskStarted        Type = "subtask_started"
	TypeSubtaskCompleted      Type = "subtask_completed"
	TypeSubtaskFailed         Type = "subtask_failed"
	TypePlanCreated           Type = "plan_created"
	TypePlanApproved          Type = "plan_approved"
	TypePlanCompleted         Type = "plan_completed"
	TypePlanFailed            Type = "plan_failed"
	TypeAgentSwitched         Type = "agent_switched"
)

// Event is one typed occurrence published on the bus.
type Event interface {
	EventType() Type
	Conversation() string
	OccurredAt() time.Time
}

// base carries the fields shared by every event.
type base struct {
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

func newBase(conversationID string) base {
	return base{ConversationID: conversationID, Timestamp: time.Now()}
}

func (b base) Conversation() string   { return b.ConversationID }
func (b base) OccurredAt() time.Time { return b.Timestamp }

// RequestStarted marks the beginning of a dialogue turn.
type RequestStarted struct {
	base
	CorrelationID string `json:"correlation_id,omitempty"`
	Model         string `json:"model,omitempty"`
}

// NewRequestStarted builds a RequestStarted event.
func NewRequestStarted(conversationID, correlationID, model string) *RequestStarted {
	return &RequestStarted{base: newBase(conversationID), CorrelationID: correlationID, Model: model}
}

func (*RequestStarted) EventType() Type { return TypeRequestStarted }

// RequestCompleted marks a dialogue turn that finished normally.
type RequestCompleted struct {
	base
	CorrelationID    string        `json:"correlation_id,omitempty"`
	Model            string        `json:"model,omitempty"`
	Duration         time.Duration `json:"duration"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
}

// NewRequestCompleted builds a RequestCompleted event.
func NewRequestCompleted(conversationID, correlationID, model string, duration time.Duration, promptTokens, completionTokens int) *RequestCompleted {
	return &RequestCompleted{
		base:             newBase(conversationID),
		CorrelationID:    correlationID,
		Model:            model,
		Duration:         duration,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
}

func (*RequestCompleted) EventType() Type { return TypeRequestCompleted }

// RequestFailed marks a dialogue turn that surfaced an error.
type RequestFailed struct {
	base
	CorrelationID string `json:"correlation_id,omitempty"`
	Model         string `json:"model,omitempty"`
	Error         string `json:"error"`
}

// NewRequestFailed builds a RequestFailed event.
func NewRequestFailed(conversationID, correlationID, model, errMsg string) *RequestFailed {
	return &RequestFailed{base: newBase(conversationID), CorrelationID: correlationID, Model: model, Error: errMsg}
}

func (*RequestFailed) EventType() Type { return TypeRequestFailed }

// ToolApprovalRequested marks a tool call paused on human approval.
type ToolApprovalRequested struct {
	base
	RequestID string `json:"request_id"`
	ToolName  string `json:"tool_name"`
	Reason    string `json:"reason,omitempty"`
}

// NewToolApprovalRequested builds a ToolApprovalRequested event.
func NewToolApprovalRequested(conversationID, requestID, toolName, reason string) *ToolApprovalRequested {
	return &ToolApprovalRequested{base: newBase(conversationID), RequestID: requestID, ToolName: toolName, Reason: reason}
}

func (*ToolApprovalRequested) EventType() Type { return TypeToolApprovalRequested }

// HITLDecisionMade records a human decision on a pending approval.
type HITLDecisionMade struct {
	base
	RequestID   string             `json:"request_id"`
	RequestType models.RequestType `json:"request_type"`
	Decision    models.Decision    `json:"decision"`
}

// NewHITLDecisionMade builds a HITLDecisionMade event.
func NewHITLDecisionMade(conversationID, requestID string, requestType models.RequestType, decision models.Decision) *HITLDecisionMade {
	return &HITLDecisionMade{base: newBase(conversationID), RequestID: requestID, RequestType: requestType, Decision: decision}
}

func (*HITLDecisionMade) EventType() Type { return TypeHITLDecisionMade }

// ValidationWarning records a provider-contract violation that was tolerated.
type ValidationWarning struct {
	base
	Warning string `json:"warning"`
}

// NewValidationWarning builds a ValidationWarning event.
func NewValidationWarning(conversationID, warning string) *ValidationWarning {
	return &ValidationWarning{base: newBase(conversationID), Warning: warning}
}

func (*ValidationWarning) EventType() Type { return TypeValidationWarning }

// SubtaskStarted marks a subtask entering execution.
type SubtaskStarted struct {
	base
	PlanID    string           `json:"plan_id"`
	SubtaskID string           `json:"subtask_id"`
	Agent     models.AgentType `json:"agent"`
}

// NewSubtaskStarted builds a SubtaskStarted event.
func NewSubtaskStarted(conversationID, planID, subtaskID string, agent models.AgentType) *SubtaskStarted {
	return &SubtaskStarted{base: newBase(conversationID), PlanID: planID, SubtaskID: subtaskID, Agent: agent}
}

func (*SubtaskStarted) EventType() Type { return TypeSubtaskStarted }

// SubtaskCompleted marks a subtask finishing successfully.
type SubtaskCompleted struct {
	base
	PlanID    string `json:"plan_id"`
	SubtaskID string `json:"subtask_id"`
	Result    string `json:"result,omitempty"`
}

// NewSubtaskCompleted builds a SubtaskCompleted event.
func NewSubtaskCompleted(conversationID, planID, subtaskID, result string) *SubtaskCompleted {
	return &SubtaskCompleted{base: newBase(conversationID), PlanID: planID, SubtaskID: subtaskID, Result: result}
}

func (*SubtaskCompleted) EventType() Type { return TypeSubtaskCompleted }

// SubtaskFailed marks a subtask that ended in error.
type SubtaskFailed struct {
	base
	PlanID    string `json:"plan_id"`
	SubtaskID string `json:"subtask_id"`
	Error     string `json:"error"`
}

// NewSubtaskFailed builds a SubtaskFailed event.
func NewSubtaskFailed(conversationID, planID, subtaskID, errMsg string) *SubtaskFailed {
	return &SubtaskFailed{base: newBase(conversationID), PlanID: planID, SubtaskID: subtaskID, Error: errMsg}
}

func (*SubtaskFailed) EventType() Type { return TypeSubtaskFailed }

// PlanCreated marks a new draft plan.
type PlanCreated struct {
	base
	PlanID       string `json:"plan_id"`
	Goal         string `json:"goal"`
	SubtaskCount int    `json:"subtask_count"`
}

// NewPlanCreated builds a PlanCreated event.
func NewPlanCreated(conversationID, planID, goal string, subtaskCount int) *PlanCreated {
	return &PlanCreated{base: newBase(conversationID), PlanID: planID, Goal: goal, SubtaskCount: subtaskCount}
}

func (*PlanCreated) EventType() Type { return TypePlanCreated }

// PlanApproved marks a plan cleared for execution.
type PlanApproved struct {
	base
	PlanID string `json:"plan_id"`
}

// NewPlanApproved builds a PlanApproved event.
func NewPlanApproved(conversationID, planID string) *PlanApproved {
	return &PlanApproved{base: newBase(conversationID), PlanID: planID}
}

func (*PlanApproved) EventType() Type { return TypePlanApproved }

// PlanCompleted marks a plan that finished all subtasks.
type PlanCompleted struct {
	base
	PlanID string `json:"plan_id"`
}

// NewPlanCompleted builds a PlanCompleted event.
func NewPlanCompleted(conversationID, planID string) *PlanCompleted {
	return &PlanCompleted{base: newBase(conversationID), PlanID: planID}
}

func (*PlanCompleted) EventType() Type { return TypePlanCompleted }

// PlanFailed marks a plan stopped by a subtask failure or deadlock.
type PlanFailed struct {
	base
	PlanID string `json:"plan_id"`
	Reason string `json:"reason,omitempty"`
}

// NewPlanFailed builds a PlanFailed event.
func NewPlanFailed(conversationID, planID, reason string) *PlanFailed {
	return &PlanFailed{base: newBase(conversationID), PlanID: planID, Reason: reason}
}

func (*PlanFailed) EventType() Type { return TypePlanFailed }

// AgentSwitched records an agent change within a conversation.
type AgentSwitched struct {
	base
	From   models.AgentType `json:"from"`
	To     models.AgentType `json:"to"`
	Reason string           `json:"reason,omitempty"`
}

// NewAgentSwitched builds an AgentSwitched event.
func NewAgentSwitched(conversationID string, from, to models.AgentType, reason string) *AgentSwitched {
	return &AgentSwitched{base: newBase(conversationID), From: from, To: to, Reason: reason}
}

func (*AgentSwitched) EventType() Type { return TypeAgentSwitched }
