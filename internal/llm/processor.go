package llm

import (
	"fmt"
	"log/slog"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ApprovalPolicy decides whether a tool call needs human approval.
type ApprovalPolicy interface {
	RequiresApproval(toolName string) (bool, string)
}

// ProcessedResponse is the validated form of a completion: flat content, at
// most one tool call, and the approval verdict for that call.
type ProcessedResponse struct {
	Content            string
	ToolCalls          []models.ToolCall
	Usage              Usage
	Model              string
	RequiresApproval   bool
	ApprovalReason     string
	ValidationWarnings []string
}

// ToolCall returns the single surviving tool call, or nil.
func (p *ProcessedResponse) ToolCall() *models.ToolCall {
	if len(p.ToolCalls) == 0 {
		return nil
	}
	return &p.ToolCalls[0]
}

// Processor enforces the assistant-side contract on raw completions.
type Processor struct {
	approvals ApprovalPolicy
	logger    *slog.Logger
}

// NewProcessor creates a processor. approvals may be nil, in which case no
// call is flagged for approval.
func NewProcessor(approvals ApprovalPolicy, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		approvals: approvals,
		logger:    logger.With("component", "llm-processor"),
	}
}

// Process validates one completion. Violations do not fail the turn; they
// surface as validation warnings while the response is coerced into shape.
func (p *Processor) Process(resp *Response) *ProcessedResponse {
	out := &ProcessedResponse{
		Content: resp.Content,
		Usage:   resp.Usage,
		Model:   resp.Model,
	}

	var valid []models.ToolCall
	for _, tc := range resp.ToolCalls {
		if tc.ID == "" || tc.Name == "" {
			out.ValidationWarnings = append(out.ValidationWarnings,
				fmt.Sprintf("dropped tool call with missing id or name (id=%q, name=%q)", tc.ID, tc.Name))
			continue
		}
		valid = append(valid, tc)
	}

	if len(valid) > 1 {
		out.ValidationWarnings = append(out.ValidationWarnings,
			fmt.Sprintf("model returned %d tool calls simultaneously; only the first (%s) is honored", len(valid), valid[0].Name))
		valid = valid[:1]
	}

	if resp.Content == "" && len(valid) == 0 {
		out.ValidationWarnings = append(out.ValidationWarnings, "empty response: no content and no tool call")
	}

	if len(valid) == 1 {
		out.ToolCalls = valid
		if p.approvals != nil {
			out.RequiresApproval, out.ApprovalReason = p.approvals.RequiresApproval(valid[0].Name)
		}
	}

	for _, w := range out.ValidationWarnings {
		p.logger.Warn("completion validation", "warning", w, "model", resp.Model)
	}
	return out
}
