package models

import (
	"errors"
	"time"
)

// AgentType identifies the policy identity currently answering in a conversation.
type AgentType string

const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentCoder        AgentType = "coder"
	AgentArchitect    AgentType = "architect"
	AgentDebug        AgentType = "debug"
	AgentAsk          AgentType = "ask"
	AgentUniversal    AgentType = "universal"
)

// DefaultMaxSwitches caps agent switches per conversation.
const DefaultMaxSwitches = 50

// ErrSwitchLimit is returned when a conversation is out of agent switches.
var ErrSwitchLimit = errors.New("agent switch limit reached")

// AgentSwitch is one recorded change of the current agent.
type AgentSwitch struct {
	From       AgentType `json:"from"`
	To         AgentType `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	Confidence string    `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentState tracks the live agent of one conversation, its switch budget and
// ordered switch history.
type AgentState struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	CurrentType    AgentType      `json:"current_type"`
	SwitchCount    int            `json:"switch_count"`
	MaxSwitches    int            `json:"max_switches"`
	Switches       []AgentSwitch  `json:"switches,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastSwitchAt   *time.Time     `json:"last_switch_at,omitempty"`
}

// NewAgentState creates the agent record for a conversation.
func NewAgentState(conversationID string, initial AgentType) *AgentState {
	now := time.Now()
	return &AgentState{
		ID:             NewID(),
		ConversationID: conversationID,
		CurrentType:    initial,
		MaxSwitches:    DefaultMaxSwitches,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Switch advances the current agent, recording the transition in history.
// Fails with ErrSwitchLimit at the cap without mutating any state.
func (a *AgentState) Switch(to AgentType, reason, confidence string) error {
	max := a.MaxSwitches
	if max <= 0 {
		max = DefaultMaxSwitches
	}
	if a.SwitchCount >= max {
		return ErrSwitchLimit
	}

	now := time.Now()
	a.Switches = append(a.Switches, AgentSwitch{
		From:       a.CurrentType,
		To:         to,
		Reason:     reason,
		Confidence: confidence,
		Timestamp:  now,
	})
	a.CurrentType = to
	a.SwitchCount++
	a.LastSwitchAt = &now
	a.UpdatedAt = now
	return nil
}

// Clone returns a deep copy of the agent state.
func (a *AgentState) Clone() *AgentState {
	clone := *a
	clone.Switches = append([]AgentSwitch(nil), a.Switches...)
	clone.Metadata = cloneMetadata(a.Metadata)
	if a.LastSwitchAt != nil {
		t := *a.LastSwitchAt
		clone.LastSwitchAt = &t
	}
	return &clone
}
