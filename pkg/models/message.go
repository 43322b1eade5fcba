package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation's history.
//
// Assistant messages may carry tool calls; tool-role messages reference the
// assistant tool call they answer via ToolCallID and carry the tool name.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID     string         `json:"tool_call_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// HasToolCalls reports whether the message carries at least one tool call.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	clone := m
	if len(m.ToolCalls) > 0 {
		clone.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			clone.ToolCalls[i] = tc.Clone()
		}
	}
	clone.Metadata = cloneMetadata(m.Metadata)
	return clone
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Clone returns a deep copy of the tool call.
func (tc ToolCall) Clone() ToolCall {
	clone := tc
	clone.Arguments = cloneMetadata(tc.Arguments)
	return clone
}

// ToolResult is the normalized outcome of an executed tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolResultEvent is the inbound wire format delivered by the tool executor.
// Exactly one of Result or Error must be present.
type ToolResultEvent struct {
	CallID   string          `json:"callId"`
	ToolName string          `json:"toolName"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ErrAmbiguousToolResult is returned when a tool-result event carries both or
// neither of its result and error fields.
var ErrAmbiguousToolResult = errors.New("tool result must carry exactly one of result or error")

// Normalize validates the event and converts it to a ToolResult.
func (e *ToolResultEvent) Normalize() (ToolResult, error) {
	hasResult := len(e.Result) > 0
	hasError := e.Error != ""
	if hasResult == hasError {
		return ToolResult{}, ErrAmbiguousToolResult
	}

	res := ToolResult{
		ToolCallID: e.CallID,
		ToolName:   e.ToolName,
	}
	if hasError {
		res.Content = e.Error
		res.IsError = true
		return res, nil
	}

	// Unwrap plain JSON strings so the LLM sees "ok" rather than "\"ok\"".
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		res.Content = s
	} else {
		res.Content = string(e.Result)
	}
	return res, nil
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
