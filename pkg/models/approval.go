package models

import (
	"errors"
	"time"
)

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// RequestType distinguishes what an approval request gates.
type RequestType string

const (
	RequestTool RequestType = "tool"
	RequestPlan RequestType = "plan"
)

// Decision is the human response to a pending approval request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionEdit    Decision = "edit"
)

// ErrApprovalTerminal is returned by a decision against an already-decided
// request.
var ErrApprovalTerminal = errors.New("approval request already decided")

// ApprovalRequest is one human decision gate, either for a tool call or for a
// plan start. RequestID is unique within a conversation.
type ApprovalRequest struct {
	RequestID         string         `json:"request_id"`
	RequestType       RequestType    `json:"request_type"`
	Subject           string         `json:"subject"`
	SessionID         string         `json:"session_id"`
	Details           map[string]any `json:"details,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Status            ApprovalStatus `json:"status"`
	DecisionReason    string         `json:"decision_reason,omitempty"`
	ModifiedArguments map[string]any `json:"modified_arguments,omitempty"`
	Feedback          string         `json:"feedback,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty"`
}

// Approve advances pending to approved, optionally substituting edited
// arguments. Fails with ErrApprovalTerminal from any non-pending state.
func (r *ApprovalRequest) Approve(modifiedArgs map[string]any) error {
	if r.Status != ApprovalPending {
		return ErrApprovalTerminal
	}
	now := time.Now()
	r.Status = ApprovalApproved
	r.ModifiedArguments = cloneMetadata(modifiedArgs)
	r.DecidedAt = &now
	return nil
}

// Reject advances pending to rejected with an optional reason.
// Fails with ErrApprovalTerminal from any non-pending state.
func (r *ApprovalRequest) Reject(reason string) error {
	if r.Status != ApprovalPending {
		return ErrApprovalTerminal
	}
	now := time.Now()
	r.Status = ApprovalRejected
	r.DecisionReason = reason
	r.DecidedAt = &now
	return nil
}

// Clone returns a deep copy of the request.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	clone := *r
	clone.Details = cloneMetadata(r.Details)
	clone.ModifiedArguments = cloneMetadata(r.ModifiedArguments)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		clone.DecidedAt = &t
	}
	return &clone
}

// ApprovalDecisionInput is the inbound decision payload.
type ApprovalDecisionInput struct {
	ApprovalRequestID string         `json:"approvalRequestId"`
	Decision          Decision       `json:"decision"`
	ModifiedArguments map[string]any `json:"modifiedArguments,omitempty"`
	Feedback          string         `json:"feedback,omitempty"`
}
