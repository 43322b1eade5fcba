package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maestro-agents/maestro/pkg/models"
)

type fakeService struct {
	chunks []*models.StreamChunk

	messageConv  string
	messageText  string
	messageAgent models.AgentType
	toolEvent    models.ToolResultEvent
	approval     models.ApprovalDecisionInput
	cancelReason string
}

func (f *fakeService) emit() <-chan *models.StreamChunk {
	out := make(chan *models.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

func (f *fakeService) ProcessMessage(_ context.Context, conversationID, userMessage string, forcedAgent models.AgentType) <-chan *models.StreamChunk {
	f.messageConv = conversationID
	f.messageText = userMessage
	f.messageAgent = forcedAgent
	return f.emit()
}

func (f *fakeService) ProcessToolResult(_ context.Context, conversationID string, event models.ToolResultEvent) <-chan *models.StreamChunk {
	f.messageConv = conversationID
	f.toolEvent = event
	return f.emit()
}

func (f *fakeService) HandleApproval(_ context.Context, conversationID string, input models.ApprovalDecisionInput) <-chan *models.StreamChunk {
	f.messageConv = conversationID
	f.approval = input
	return f.emit()
}

func (f *fakeService) CancelPlan(_ context.Context, conversationID, reason string) <-chan *models.StreamChunk {
	f.messageConv = conversationID
	f.cancelReason = reason
	return f.emit()
}

func decodeSSE(t *testing.T, body string) []models.StreamChunk {
	t.Helper()
	var chunks []models.StreamChunk
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk models.StreamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestMessageEndpointStreamsChunks(t *testing.T) {
	svc := &fakeService{chunks: []*models.StreamChunk{
		models.AssistantChunk("thinking", false),
		models.AssistantChunk("done", true),
	}}
	ts := httptest.NewServer(New(svc, "test", nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/conversations/conv-1/messages",
		"application/json", strings.NewReader(`{"content":"hello","agent":"coder"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	chunks := decodeSSE(t, string(body))
	if len(chunks) != 2 || !chunks[1].IsFinal || chunks[1].Content != "done" {
		t.Fatalf("chunks = %+v", chunks)
	}

	if svc.messageConv != "conv-1" || svc.messageText != "hello" || svc.messageAgent != models.AgentCoder {
		t.Fatalf("service saw conv=%q text=%q agent=%q", svc.messageConv, svc.messageText, svc.messageAgent)
	}
}

func TestMessageEndpointRejectsEmptyContent(t *testing.T) {
	ts := httptest.NewServer(New(&fakeService{}, "test", nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/conversations/conv-1/messages",
		"application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestToolResultEndpoint(t *testing.T) {
	svc := &fakeService{chunks: []*models.StreamChunk{models.AssistantChunk("ok", true)}}
	ts := httptest.NewServer(New(svc, "test", nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/conversations/conv-2/tool-results",
		"application/json", strings.NewReader(`{"callId":"call_1","toolName":"read_file","result":"\"data\""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.toolEvent.CallID != "call_1" || svc.toolEvent.ToolName != "read_file" {
		t.Fatalf("event = %+v", svc.toolEvent)
	}
}

func TestApprovalEndpointRequiresRequestID(t *testing.T) {
	svc := &fakeService{chunks: []*models.StreamChunk{models.DoneChunk()}}
	ts := httptest.NewServer(New(svc, "test", nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/conversations/conv-1/approvals",
		"application/json", strings.NewReader(`{"decision":"approve"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/v1/conversations/conv-1/approvals",
		"application/json", strings.NewReader(`{"approvalRequestId":"call_9","decision":"approve"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.approval.ApprovalRequestID != "call_9" || svc.approval.Decision != models.DecisionApprove {
		t.Fatalf("approval = %+v", svc.approval)
	}
}

func TestCancelPlanEndpoint(t *testing.T) {
	svc := &fakeService{chunks: []*models.StreamChunk{
		models.AssistantChunk("Plan cancelled: scope changed", true),
	}}
	ts := httptest.NewServer(New(svc, "test", nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/conversations/conv-3/plan/cancel",
		"application/json", strings.NewReader(`{"reason":"scope changed"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.messageConv != "conv-3" || svc.cancelReason != "scope changed" {
		t.Fatalf("service saw conv=%q reason=%q", svc.messageConv, svc.cancelReason)
	}

	// The reason is optional; an empty body cancels with the default reason.
	resp, err = http.Post(ts.URL+"/v1/conversations/conv-3/plan/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.cancelReason != "" {
		t.Fatalf("reason = %q", svc.cancelReason)
	}
}

func TestHealthz(t *testing.T) {
	ts := httptest.NewServer(New(&fakeService{}, "v1.2.3", nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "v1.2.3") {
		t.Fatalf("status=%d body=%q", resp.StatusCode, string(body))
	}
}
