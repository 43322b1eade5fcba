package tools

import (
	"errors"
	"testing"

	"github.com/maestro-agents/maestro/pkg/models"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestFilterNilMeansAll(t *testing.T) {
	reg := newRegistry(t)

	all := reg.Filter(nil)
	if len(all) != len(reg.List()) {
		t.Fatalf("nil filter returned %d specs, want %d", len(all), len(reg.List()))
	}
}

func TestFilterSubset(t *testing.T) {
	reg := newRegistry(t)

	out := reg.Filter([]string{"read_file", "search"})
	if len(out) != 2 {
		t.Fatalf("filtered = %d specs", len(out))
	}
	if out[0].Name != "read_file" || out[1].Name != "search" {
		t.Fatalf("filtered order = %v", out)
	}
}

func TestFilterUnknownNameSkipped(t *testing.T) {
	reg := newRegistry(t)

	out := reg.Filter([]string{"read_file", "teleport", "search"})
	if len(out) != 2 {
		t.Fatalf("unknown name must be skipped, got %d specs", len(out))
	}
}

func TestFilterEmptyList(t *testing.T) {
	reg := newRegistry(t)

	out := reg.Filter([]string{})
	if len(out) != 0 {
		t.Fatalf("empty allowed list must filter everything, got %d", len(out))
	}
}

func TestValidateCall(t *testing.T) {
	reg := newRegistry(t)

	cases := []struct {
		name    string
		call    models.ToolCall
		wantErr error
	}{
		{
			name: "valid write_file",
			call: models.ToolCall{ID: "c1", Name: "write_file", Arguments: map[string]any{"path": "foo.txt", "content": "hi"}},
		},
		{
			name:    "missing required field",
			call:    models.ToolCall{ID: "c2", Name: "write_file", Arguments: map[string]any{"path": "foo.txt"}},
			wantErr: ErrInvalidArguments,
		},
		{
			name:    "wrong field type",
			call:    models.ToolCall{ID: "c3", Name: "write_file", Arguments: map[string]any{"path": 42, "content": "hi"}},
			wantErr: ErrInvalidArguments,
		},
		{
			name:    "unknown tool",
			call:    models.ToolCall{ID: "c4", Name: "teleport", Arguments: map[string]any{}},
			wantErr: ErrUnknownTool,
		},
		{
			name: "valid create_plan",
			call: models.ToolCall{ID: "c5", Name: "create_plan", Arguments: map[string]any{
				"goal": "build service",
				"subtasks": []any{
					map[string]any{"id": "s1", "description": "scaffold", "agent": "coder"},
					map[string]any{"id": "s2", "description": "test", "agent": "coder", "dependencies": []any{"s1"}},
				},
			}},
		},
		{
			name:    "create_plan with bad agent",
			call:    models.ToolCall{ID: "c6", Name: "create_plan", Arguments: map[string]any{"goal": "g", "subtasks": []any{map[string]any{"id": "s1", "description": "d", "agent": "wizard"}}}},
			wantErr: ErrInvalidArguments,
		},
		{
			name: "valid switch_mode",
			call: models.ToolCall{ID: "c7", Name: "switch_mode", Arguments: map[string]any{"target_agent": "debug", "reason": "stack trace"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.ValidateCall(tc.call)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
