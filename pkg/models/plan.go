package models

import (
	"errors"
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanDraft      PlanStatus = "draft"
	PlanApproved   PlanStatus = "approved"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
	PlanCancelled  PlanStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanFailed || s == PlanCancelled
}

// SubtaskStatus is the lifecycle state of a subtask.
type SubtaskStatus string

const (
	SubtaskPending SubtaskStatus = "pending"
	SubtaskRunning SubtaskStatus = "running"
	SubtaskDone    SubtaskStatus = "done"
	SubtaskFailed  SubtaskStatus = "failed"
)

// ErrPlanState is returned by a plan transition attempted from the wrong state.
var ErrPlanState = errors.New("illegal plan state transition")

// Subtask is one unit of work in a plan, assigned to a target agent and
// possibly depending on other subtasks of the same plan.
type Subtask struct {
	ID            string        `json:"id"`
	PlanID        string        `json:"plan_id,omitempty"`
	Description   string        `json:"description"`
	Agent         AgentType     `json:"agent"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	Status        SubtaskStatus `json:"status"`
	EstimatedTime string        `json:"estimated_time,omitempty"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the subtask.
func (s *Subtask) Clone() *Subtask {
	clone := *s
	clone.Dependencies = append([]string(nil), s.Dependencies...)
	if s.StartedAt != nil {
		t := *s.StartedAt
		clone.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

// Plan is a dependency-ordered set of subtasks produced for a complex request.
type Plan struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	Goal             string         `json:"goal"`
	Status           PlanStatus     `json:"status"`
	Subtasks         []*Subtask     `json:"subtasks"`
	CurrentSubtaskID string         `json:"current_subtask_id,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Subtask returns the subtask with the given id, or nil.
func (p *Plan) Subtask(id string) *Subtask {
	for _, st := range p.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Approve advances draft to approved and stamps the approval time.
func (p *Plan) Approve() error {
	if p.Status != PlanDraft {
		return fmt.Errorf("%w: approve from %s", ErrPlanState, p.Status)
	}
	now := time.Now()
	p.Status = PlanApproved
	p.ApprovedAt = &now
	p.UpdatedAt = now
	return nil
}

// Start advances approved to in_progress and stamps the start time.
func (p *Plan) Start() error {
	if p.Status != PlanApproved {
		return fmt.Errorf("%w: start from %s", ErrPlanState, p.Status)
	}
	now := time.Now()
	p.Status = PlanInProgress
	p.StartedAt = &now
	p.UpdatedAt = now
	return nil
}

// Complete moves a non-terminal plan to completed.
func (p *Plan) Complete() error {
	return p.finish(PlanCompleted)
}

// Fail moves a non-terminal plan to failed.
func (p *Plan) Fail() error {
	return p.finish(PlanFailed)
}

// Cancel moves a non-terminal plan to cancelled, recording the reason.
func (p *Plan) Cancel(reason string) error {
	if err := p.finish(PlanCancelled); err != nil {
		return err
	}
	if reason != "" {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any)
		}
		p.Metadata["cancellation_reason"] = reason
	}
	return nil
}

func (p *Plan) finish(status PlanStatus) error {
	if p.Status.Terminal() {
		return fmt.Errorf("%w: %s from terminal %s", ErrPlanState, status, p.Status)
	}
	now := time.Now()
	p.Status = status
	p.CompletedAt = &now
	p.UpdatedAt = now
	return nil
}

// MarkSubtask drives the subtask state machine.
//
// Legal transitions are pending to running, running to done or failed, and
// failed back to pending for a retry. Re-completing a done subtask is a no-op
// returning false. Any other transition returns false without mutation.
func (p *Plan) MarkSubtask(subtaskID string, status SubtaskStatus, resultOrError string) bool {
	st := p.Subtask(subtaskID)
	if st == nil {
		return false
	}
	if st.Status == SubtaskDone {
		return false
	}

	legal := map[SubtaskStatus][]SubtaskStatus{
		SubtaskPending: {SubtaskRunning},
		SubtaskRunning: {SubtaskDone, SubtaskFailed},
		SubtaskFailed:  {SubtaskPending, SubtaskFailed},
	}
	allowed := false
	for _, next := range legal[st.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	now := time.Now()
	switch status {
	case SubtaskRunning:
		st.StartedAt = &now
		st.Error = ""
		p.CurrentSubtaskID = st.ID
	case SubtaskDone:
		st.Result = resultOrError
		st.CompletedAt = &now
	case SubtaskFailed:
		st.Error = resultOrError
		st.CompletedAt = &now
	case SubtaskPending:
		st.StartedAt = nil
		st.CompletedAt = nil
		st.Error = ""
	}
	st.Status = status
	st.UpdatedAt = now
	p.UpdatedAt = now
	return true
}

// PendingCount returns the number of subtasks still pending.
func (p *Plan) PendingCount() int {
	n := 0
	for _, st := range p.Subtasks {
		if st.Status == SubtaskPending {
			n++
		}
	}
	return n
}

// RunningCount returns the number of subtasks currently running.
func (p *Plan) RunningCount() int {
	n := 0
	for _, st := range p.Subtasks {
		if st.Status == SubtaskRunning {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	clone := *p
	clone.Subtasks = make([]*Subtask, len(p.Subtasks))
	for i, st := range p.Subtasks {
		clone.Subtasks[i] = st.Clone()
	}
	clone.Metadata = cloneMetadata(p.Metadata)
	for _, ts := range []struct {
		src *time.Time
		dst **time.Time
	}{
		{p.ApprovedAt, &clone.ApprovedAt},
		{p.StartedAt, &clone.StartedAt},
		{p.CompletedAt, &clone.CompletedAt},
	} {
		if ts.src != nil {
			t := *ts.src
			*ts.dst = &t
		}
	}
	return &clone
}
