// Package hitl implements the human-in-the-loop approval gate: the policy
// deciding which tool intents need a human decision, and the store holding
// pending requests.
package hitl

import (
	"strings"
)

// Rule maps a tool-name glob to an approval requirement. First match wins.
type Rule struct {
	Pattern          string `yaml:"pattern" json:"pattern"`
	RequiresApproval bool   `yaml:"requires_approval" json:"requires_approval"`
	Reason           string `yaml:"reason" json:"reason"`
}

// Policy evaluates tool intents against an ordered rule list.
type Policy struct {
	// Enabled gates the whole policy; when false no tool requires approval.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DefaultRequiresApproval applies when no rule matches.
	DefaultRequiresApproval bool `yaml:"default_requires_approval" json:"default_requires_approval"`

	Rules []Rule `yaml:"rules" json:"rules"`
}

// DefaultPolicy requires approval for mutations and command execution and
// explicitly allows reads, listings, and searches.
func DefaultPolicy() *Policy {
	return &Policy{
		Enabled: true,
		Rules: []Rule{
			{Pattern: "write_file", RequiresApproval: true, Reason: "modifies files"},
			{Pattern: "delete_file", RequiresApproval: true, Reason: "deletes files"},
			{Pattern: "move_file", RequiresApproval: true, Reason: "moves files"},
			{Pattern: "create_directory", RequiresApproval: true, Reason: "creates directories"},
			{Pattern: "execute_command", RequiresApproval: true, Reason: "runs shell commands"},
			{Pattern: "read_*", RequiresApproval: false},
			{Pattern: "list_*", RequiresApproval: false},
			{Pattern: "search", RequiresApproval: false},
		},
	}
}

// Evaluate returns whether the tool requires approval and the rule's reason.
func (p *Policy) Evaluate(toolName string) (requiresApproval bool, reason string) {
	if !p.Enabled {
		return false, ""
	}
	for _, rule := range p.Rules {
		if matchesPattern(rule.Pattern, toolName) {
			return rule.RequiresApproval, rule.Reason
		}
	}
	if p.DefaultRequiresApproval {
		return true, "approval required by default policy"
	}
	return false, ""
}

// matchesPattern checks one glob against a tool name.
// Supports: exact match, prefix* match, *suffix match, and * (all).
func matchesPattern(pattern, toolName string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if pattern == toolName {
		return true
	}
	if len(pattern) > 1 && pattern[len(pattern)-1] == '*' {
		return strings.HasPrefix(toolName, pattern[:len(pattern)-1])
	}
	if len(pattern) > 1 && pattern[0] == '*' {
		return strings.HasSuffix(toolName, pattern[1:])
	}
	return false
}
