package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestToolResultEventNormalize(t *testing.T) {
	cases := []struct {
		name    string
		event   ToolResultEvent
		want    ToolResult
		wantErr bool
	}{
		{
			name:  "json string result is unwrapped",
			event: ToolResultEvent{CallID: "c1", ToolName: "read_file", Result: json.RawMessage(`"ok"`)},
			want:  ToolResult{ToolCallID: "c1", ToolName: "read_file", Content: "ok"},
		},
		{
			name:  "structured result kept verbatim",
			event: ToolResultEvent{CallID: "c2", ToolName: "search", Result: json.RawMessage(`{"hits":3}`)},
			want:  ToolResult{ToolCallID: "c2", ToolName: "search", Content: `{"hits":3}`},
		},
		{
			name:  "error result",
			event: ToolResultEvent{CallID: "c3", ToolName: "write_file", Error: "disk full"},
			want:  ToolResult{ToolCallID: "c3", ToolName: "write_file", Content: "disk full", IsError: true},
		},
		{
			name:    "both present",
			event:   ToolResultEvent{CallID: "c4", Result: json.RawMessage(`"x"`), Error: "boom"},
			wantErr: true,
		},
		{
			name:    "neither present",
			event:   ToolResultEvent{CallID: "c5"},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.event.Normalize()
			if tc.wantErr {
				if !errors.Is(err, ErrAmbiguousToolResult) {
					t.Fatalf("err = %v, want ErrAmbiguousToolResult", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestStreamChunkJSON(t *testing.T) {
	chunk := ToolCallChunk(ToolCall{ID: "call-1", Name: "write_file", Arguments: map[string]any{"path": "foo.txt"}}, true, true)
	raw, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "tool_call" {
		t.Fatalf("type = %v", decoded["type"])
	}
	if decoded["isFinal"] != true || decoded["requiresApproval"] != true {
		t.Fatalf("flags = %v", decoded)
	}
	if decoded["callId"] != "call-1" || decoded["toolName"] != "write_file" {
		t.Fatalf("identity fields = %v", decoded)
	}
}

func TestApprovalRequestLifecycle(t *testing.T) {
	req := &ApprovalRequest{RequestID: "r1", RequestType: RequestTool, Status: ApprovalPending}
	if err := req.Approve(map[string]any{"path": "bar.txt"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if req.DecidedAt == nil || req.ModifiedArguments["path"] != "bar.txt" {
		t.Fatalf("approved request = %+v", req)
	}
	if err := req.Approve(nil); !errors.Is(err, ErrApprovalTerminal) {
		t.Fatalf("double approve: err = %v, want ErrApprovalTerminal", err)
	}
	if err := req.Reject("late"); !errors.Is(err, ErrApprovalTerminal) {
		t.Fatalf("reject after approve: err = %v, want ErrApprovalTerminal", err)
	}
}
