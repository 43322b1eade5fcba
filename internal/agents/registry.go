// Package agents defines the static capability table of agent types and
// persists the per-conversation agent state.
package agents

import (
	"fmt"
	"strings"

	"github.com/maestro-agents/maestro/pkg/models"
)

// Capabilities describes what one agent type is allowed to do.
type Capabilities struct {
	Type models.AgentType

	// AllowedTools is the set of tool names the agent may call. Nil means all.
	AllowedTools []string

	// FilePredicate restricts paths for file-mutating tools. Nil means no
	// restriction.
	FilePredicate func(path string) bool

	// CanSwitch reports whether the agent may request an agent switch.
	CanSwitch bool

	// SystemPromptID names the prompt loaded for this agent. Opaque here.
	SystemPromptID string

	// Delegates reports whether the agent delegates work rather than doing it.
	Delegates bool
}

// Registry is the static capability table keyed by agent type.
type Registry struct {
	table map[models.AgentType]Capabilities
}

// NewRegistry builds the registry with the canonical capability table.
func NewRegistry() *Registry {
	mdOnly := func(path string) bool {
		return strings.HasSuffix(strings.ToLower(path), ".md")
	}

	table := map[models.AgentType]Capabilities{
		models.AgentOrchestrator: {
			Type:           models.AgentOrchestrator,
			AllowedTools:   []string{"read_file", "list_directory", "search", "switch_mode", "create_plan"},
			CanSwitch:      true,
			SystemPromptID: "orchestrator",
			Delegates:      true,
		},
		models.AgentCoder: {
			Type: models.AgentCoder,
			AllowedTools: []string{
				"write_file", "read_file", "delete_file", "move_file",
				"create_directory", "list_directory", "execute_command",
				"search", "switch_mode",
			},
			CanSwitch:      true,
			SystemPromptID: "coder",
		},
		models.AgentArchitect: {
			Type: models.AgentArchitect,
			AllowedTools: []string{
				"write_file", "read_file", "list_directory", "search", "switch_mode",
			},
			FilePredicate:  mdOnly,
			CanSwitch:      true,
			SystemPromptID: "architect",
		},
		models.AgentDebug: {
			Type: models.AgentDebug,
			AllowedTools: []string{
				"write_file", "read_file", "list_directory", "execute_command",
				"search", "switch_mode",
			},
			CanSwitch:      true,
			SystemPromptID: "debug",
		},
		models.AgentAsk: {
			Type:           models.AgentAsk,
			AllowedTools:   []string{"read_file", "list_directory", "search", "switch_mode"},
			CanSwitch:      true,
			SystemPromptID: "ask",
		},
		models.AgentUniversal: {
			Type:           models.AgentUniversal,
			AllowedTools:   nil, // all tools
			CanSwitch:      true,
			SystemPromptID: "universal",
		},
	}

	return &Registry{table: table}
}

// Get returns the capability record for an agent type.
func (r *Registry) Get(agentType models.AgentType) (Capabilities, error) {
	caps, ok := r.table[agentType]
	if !ok {
		return Capabilities{}, fmt.Errorf("unknown agent type %q", agentType)
	}
	return caps, nil
}

// CanUseTool reports whether the agent type may call the named tool.
func (r *Registry) CanUseTool(agentType models.AgentType, toolName string) bool {
	caps, ok := r.table[agentType]
	if !ok {
		return false
	}
	if caps.AllowedTools == nil {
		return true
	}
	for _, name := range caps.AllowedTools {
		if name == toolName {
			return true
		}
	}
	return false
}

// CanEditFile reports whether the agent type may mutate the given path.
func (r *Registry) CanEditFile(agentType models.AgentType, path string) bool {
	caps, ok := r.table[agentType]
	if !ok {
		return false
	}
	if caps.FilePredicate == nil {
		return true
	}
	return caps.FilePredicate(path)
}

// CanSwitch reports whether the agent type may switch to the target type.
func (r *Registry) CanSwitch(agentType, target models.AgentType) bool {
	caps, ok := r.table[agentType]
	if !ok || !caps.CanSwitch {
		return false
	}
	_, known := r.table[target]
	return known && target != agentType
}

// AllowedTools returns the allowed tool list for an agent type (nil = all).
func (r *Registry) AllowedTools(agentType models.AgentType) []string {
	caps, ok := r.table[agentType]
	if !ok {
		return []string{}
	}
	if caps.AllowedTools == nil {
		return nil
	}
	out := make([]string, len(caps.AllowedTools))
	copy(out, caps.AllowedTools)
	return out
}
