package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxMessages caps the message history per conversation.
const DefaultMaxMessages = 1000

// DefaultTitleLength is the maximum length of an auto-generated title.
const DefaultTitleLength = 60

var (
	// ErrConversationInactive is returned when appending to a deactivated conversation.
	ErrConversationInactive = errors.New("conversation is inactive")

	// ErrMessageLimit is returned when a conversation is at its message cap.
	ErrMessageLimit = errors.New("conversation message limit reached")
)

// Conversation is the aggregate root holding a user's ordered message history.
//
// Messages are append-only in normal operation; restoring from a Snapshot is
// the only way to shrink the sequence. LastActivity advances monotonically on
// every mutation.
type Conversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Active       bool           `json:"active"`
	Messages     []Message      `json:"messages"`
	MaxMessages  int            `json:"max_messages"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastActivity time.Time      `json:"last_activity"`
}

// NewConversation creates an active conversation with the default message cap.
func NewConversation(id string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:           id,
		Active:       true,
		MaxMessages:  DefaultMaxMessages,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
}

// Append adds a message to the history.
//
// Fails with ErrConversationInactive on a deactivated conversation and with
// ErrMessageLimit at the cap; neither failure advances LastActivity. The title
// is auto-set from the first user message, truncated to DefaultTitleLength.
func (c *Conversation) Append(msg Message) error {
	if !c.Active {
		return ErrConversationInactive
	}
	max := c.MaxMessages
	if max <= 0 {
		max = DefaultMaxMessages
	}
	if len(c.Messages) >= max {
		return ErrMessageLimit
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.ConversationID = c.ID

	c.Messages = append(c.Messages, msg)
	if c.Title == "" && msg.Role == RoleUser {
		c.Title = TruncateTitle(msg.Content, DefaultTitleLength)
	}
	c.touch()
	return nil
}

// Deactivate marks the conversation inactive and records the reason.
func (c *Conversation) Deactivate(reason string) {
	c.Active = false
	if reason != "" {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		c.Metadata["deactivation_reason"] = reason
	}
	c.touch()
}

// LastAssistantMessage returns the most recent assistant message without tool
// calls, or nil if none exists.
func (c *Conversation) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == RoleAssistant && !m.HasToolCalls() {
			clone := m.Clone()
			return &clone
		}
	}
	return nil
}

// LastToolCall returns the most recent outstanding assistant tool call, or nil
// when the history ends in anything other than an unanswered tool call.
func (c *Conversation) LastToolCall() *ToolCall {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		switch m.Role {
		case RoleTool:
			// Already answered.
			return nil
		case RoleAssistant:
			if m.HasToolCalls() {
				tc := m.ToolCalls[0].Clone()
				return &tc
			}
			return nil
		}
	}
	return nil
}

// Snapshot is an immutable copy of a conversation's message list and metadata,
// used to isolate subtask execution.
type Snapshot struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []Message      `json:"messages"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewSnapshot captures a deep copy of the message sequence and metadata.
func (c *Conversation) NewSnapshot() *Snapshot {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	return &Snapshot{
		ConversationID: c.ID,
		Messages:       msgs,
		Metadata:       cloneMetadata(c.Metadata),
		CreatedAt:      time.Now(),
	}
}

// Restore replaces the message sequence with the snapshot's copy. The
// conversation id and activity flag are preserved.
func (c *Conversation) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	msgs := make([]Message, len(snap.Messages))
	for i, m := range snap.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	c.Metadata = cloneMetadata(snap.Metadata)
	c.touch()
}

// ClearResult summarizes a ClearToolMessages pass.
type ClearResult struct {
	RemovedCount      int    `json:"removed_count"`
	PreservedResult   string `json:"preserved_result,omitempty"`
	ContextMessage    string `json:"context_message"`
	FinalMessageCount int    `json:"final_message_count"`
}

// ClearToolMessages removes, in one pass, every assistant message carrying
// tool calls and every tool-role message, preserving user and system messages
// and the last assistant message without tool calls. A single system message
// recording the agent switch is appended. This guarantees no stray
// tool_call_id is ever sent to the LLM alongside an unresolved assistant
// tool-call message after an agent change.
func (c *Conversation) ClearToolMessages(fromAgent, toAgent AgentType) ClearResult {
	var preserved *Message
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == RoleAssistant && !m.HasToolCalls() {
			preserved = &c.Messages[i]
			break
		}
	}

	kept := make([]Message, 0, len(c.Messages))
	removed := 0
	for i := range c.Messages {
		m := c.Messages[i]
		switch {
		case m.Role == RoleAssistant && m.HasToolCalls():
			removed++
		case m.Role == RoleTool:
			removed++
		case m.Role == RoleAssistant && (preserved == nil || m.ID != preserved.ID):
			// Intermediate assistant output is superseded by the preserved result.
			removed++
		default:
			kept = append(kept, m)
		}
	}

	contextMsg := fmt.Sprintf("Agent switched from %s to %s", fromAgent, toAgent)
	kept = append(kept, Message{
		ID:             newMessageID(),
		ConversationID: c.ID,
		Role:           RoleSystem,
		Content:        contextMsg,
		Timestamp:      time.Now(),
	})

	c.Messages = kept
	c.touch()

	result := ClearResult{
		RemovedCount:      removed,
		ContextMessage:    contextMsg,
		FinalMessageCount: len(kept),
	}
	if preserved != nil {
		result.PreservedResult = preserved.Content
	}
	return result
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		clone.Messages[i] = m.Clone()
	}
	clone.Metadata = cloneMetadata(c.Metadata)
	return &clone
}

func (c *Conversation) touch() {
	now := time.Now()
	if now.After(c.LastActivity) {
		c.LastActivity = now
	}
	c.UpdatedAt = now
}

// TruncateTitle deterministically shortens s to at most max characters,
// appending an ellipsis when truncation occurred.
func TruncateTitle(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
