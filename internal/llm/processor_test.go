package llm

import (
	"strings"
	"testing"

	"github.com/maestro-agents/maestro/pkg/models"
)

type stubPolicy struct {
	requires bool
	reason   string
}

func (p stubPolicy) RequiresApproval(string) (bool, string) {
	return p.requires, p.reason
}

func TestProcessPlainContent(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Process(&Response{Content: "done", Model: "gpt-4o", Usage: Usage{TotalTokens: 9}})

	if out.Content != "done" || out.ToolCall() != nil {
		t.Fatalf("out = %+v", out)
	}
	if len(out.ValidationWarnings) != 0 {
		t.Fatalf("warnings = %v", out.ValidationWarnings)
	}
	if out.Usage.TotalTokens != 9 || out.Model != "gpt-4o" {
		t.Fatalf("usage/model not carried through: %+v", out)
	}
}

func TestProcessKeepsOnlyFirstToolCall(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Process(&Response{ToolCalls: []models.ToolCall{
		{ID: "call_1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}},
		{ID: "call_2", Name: "write_file", Arguments: map[string]any{"path": "b.txt"}},
	}})

	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "call_1" {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if len(out.ValidationWarnings) != 1 || !strings.Contains(out.ValidationWarnings[0], "simultaneously") {
		t.Fatalf("warnings = %v", out.ValidationWarnings)
	}
}

func TestProcessEmptyResponseWarning(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Process(&Response{})

	if len(out.ValidationWarnings) != 1 || !strings.Contains(out.ValidationWarnings[0], "empty response") {
		t.Fatalf("warnings = %v", out.ValidationWarnings)
	}
}

func TestProcessDropsAnonymousToolCalls(t *testing.T) {
	p := NewProcessor(nil, nil)
	out := p.Process(&Response{Content: "thinking", ToolCalls: []models.ToolCall{
		{ID: "", Name: "read_file"},
		{ID: "call_2", Name: ""},
		{ID: "call_3", Name: "search"},
	}})

	if len(out.ToolCalls) != 1 || out.ToolCalls[0].ID != "call_3" {
		t.Fatalf("tool calls = %+v", out.ToolCalls)
	}
	if len(out.ValidationWarnings) != 2 {
		t.Fatalf("warnings = %v", out.ValidationWarnings)
	}
}

func TestProcessAttachesApprovalVerdict(t *testing.T) {
	p := NewProcessor(stubPolicy{requires: true, reason: "modifies files"}, nil)
	out := p.Process(&Response{ToolCalls: []models.ToolCall{
		{ID: "call_1", Name: "write_file"},
	}})

	if !out.RequiresApproval || out.ApprovalReason != "modifies files" {
		t.Fatalf("approval = %v %q", out.RequiresApproval, out.ApprovalReason)
	}
}

func TestProcessNoApprovalForPlainContent(t *testing.T) {
	p := NewProcessor(stubPolicy{requires: true, reason: "always"}, nil)
	out := p.Process(&Response{Content: "hello"})

	if out.RequiresApproval {
		t.Fatal("plain content must not carry an approval verdict")
	}
}
