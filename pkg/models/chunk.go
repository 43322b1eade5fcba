package models

// ChunkType tags one record of progress delivered to the gateway.
type ChunkType string

const (
	ChunkAssistantMessage     ChunkType = "assistant_message"
	ChunkToolCall             ChunkType = "tool_call"
	ChunkToolResult           ChunkType = "tool_result"
	ChunkAgentSwitch          ChunkType = "agent_switch"
	ChunkError                ChunkType = "error"
	ChunkPlanApprovalRequired ChunkType = "plan_approval_required"
	ChunkSessionInfo          ChunkType = "session_info"
	ChunkDone                 ChunkType = "done"
)

// StreamChunk is the tagged wire record streamed back to the gateway during a
// turn. Exactly one chunk per invocation carries IsFinal=true and it is the
// last chunk of the stream.
type StreamChunk struct {
	Type    ChunkType `json:"type"`
	IsFinal bool      `json:"isFinal"`

	// assistant_message, tool_result
	Content string `json:"content,omitempty"`

	// tool_call, tool_result
	CallID           string         `json:"callId,omitempty"`
	ToolName         string         `json:"toolName,omitempty"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	RequiresApproval bool           `json:"requiresApproval,omitempty"`

	// agent_switch
	TargetAgent AgentType `json:"targetAgent,omitempty"`
	Reason      string    `json:"reason,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// plan_approval_required
	ApprovalRequestID string `json:"approvalRequestId,omitempty"`
	PlanSummary       string `json:"planSummary,omitempty"`

	// session_info
	ConversationID string `json:"conversationId,omitempty"`
}

// AssistantChunk builds an assistant_message chunk.
func AssistantChunk(content string, isFinal bool) *StreamChunk {
	return &StreamChunk{Type: ChunkAssistantMessage, Content: content, IsFinal: isFinal}
}

// ToolCallChunk builds a tool_call chunk.
func ToolCallChunk(call ToolCall, requiresApproval, isFinal bool) *StreamChunk {
	return &StreamChunk{
		Type:             ChunkToolCall,
		CallID:           call.ID,
		ToolName:         call.Name,
		Arguments:        cloneMetadata(call.Arguments),
		RequiresApproval: requiresApproval,
		IsFinal:          isFinal,
	}
}

// ToolResultChunk builds a tool_result chunk.
func ToolResultChunk(callID, content string, isFinal bool) *StreamChunk {
	return &StreamChunk{Type: ChunkToolResult, CallID: callID, Content: content, IsFinal: isFinal}
}

// AgentSwitchChunk builds an agent_switch chunk.
func AgentSwitchChunk(target AgentType, reason string, isFinal bool) *StreamChunk {
	return &StreamChunk{Type: ChunkAgentSwitch, TargetAgent: target, Reason: reason, IsFinal: isFinal}
}

// ErrorChunk builds an error chunk.
func ErrorChunk(message string, isFinal bool) *StreamChunk {
	return &StreamChunk{Type: ChunkError, Message: message, IsFinal: isFinal}
}

// PlanApprovalChunk builds a plan_approval_required chunk.
func PlanApprovalChunk(approvalRequestID, planSummary string, isFinal bool) *StreamChunk {
	return &StreamChunk{
		Type:              ChunkPlanApprovalRequired,
		ApprovalRequestID: approvalRequestID,
		PlanSummary:       planSummary,
		IsFinal:           isFinal,
	}
}

// SessionInfoChunk builds a session_info chunk announcing the resolved
// conversation id.
func SessionInfoChunk(conversationID string) *StreamChunk {
	return &StreamChunk{Type: ChunkSessionInfo, ConversationID: conversationID}
}

// DoneChunk builds the terminal done chunk.
func DoneChunk() *StreamChunk {
	return &StreamChunk{Type: ChunkDone, IsFinal: true}
}
