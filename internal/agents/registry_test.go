package agents

import (
	"testing"

	"github.com/maestro-agents/maestro/pkg/models"
)

func TestCanUseTool(t *testing.T) {
	reg := NewRegistry()

	cases := []struct {
		agent models.AgentType
		tool  string
		want  bool
	}{
		{models.AgentCoder, "write_file", true},
		{models.AgentCoder, "create_plan", false},
		{models.AgentOrchestrator, "create_plan", true},
		{models.AgentOrchestrator, "write_file", false},
		{models.AgentAsk, "execute_command", false},
		{models.AgentAsk, "read_file", true},
		{models.AgentUniversal, "anything_at_all", true},
		{"nonexistent", "read_file", false},
	}
	for _, tc := range cases {
		if got := reg.CanUseTool(tc.agent, tc.tool); got != tc.want {
			t.Errorf("CanUseTool(%s, %s) = %v, want %v", tc.agent, tc.tool, got, tc.want)
		}
	}
}

func TestArchitectFileRestriction(t *testing.T) {
	reg := NewRegistry()

	if !reg.CanEditFile(models.AgentArchitect, "docs/design.md") {
		t.Error("architect should edit markdown files")
	}
	if !reg.CanEditFile(models.AgentArchitect, "README.MD") {
		t.Error("extension check should be case insensitive")
	}
	if reg.CanEditFile(models.AgentArchitect, "main.go") {
		t.Error("architect must not edit source files")
	}
	if !reg.CanEditFile(models.AgentCoder, "main.go") {
		t.Error("coder has no path restriction")
	}
}

func TestCanSwitch(t *testing.T) {
	reg := NewRegistry()

	if !reg.CanSwitch(models.AgentCoder, models.AgentDebug) {
		t.Error("coder should switch to debug")
	}
	if reg.CanSwitch(models.AgentCoder, models.AgentCoder) {
		t.Error("switching to the same type is meaningless")
	}
	if reg.CanSwitch(models.AgentCoder, "nonexistent") {
		t.Error("unknown target must be rejected")
	}
}

func TestAllowedToolsCopy(t *testing.T) {
	reg := NewRegistry()

	tools := reg.AllowedTools(models.AgentAsk)
	if len(tools) == 0 {
		t.Fatal("ask agent has allowed tools")
	}
	tools[0] = "mutated"
	if reg.AllowedTools(models.AgentAsk)[0] == "mutated" {
		t.Fatal("AllowedTools must return a copy")
	}

	if reg.AllowedTools(models.AgentUniversal) != nil {
		t.Fatal("universal agent allows all tools (nil list)")
	}
}
