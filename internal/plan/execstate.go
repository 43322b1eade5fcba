package plan

import (
	"errors"
	"fmt"
	"time"
)

// ExecState is one state of the per-plan execution machine.
type ExecState string

const (
	ExecRunning         ExecState = "running"
	ExecWaitingApproval ExecState = "waiting_approval"
	ExecResumed         ExecState = "resumed"
	ExecCompleted       ExecState = "completed"
	ExecFailed          ExecState = "failed"
	ExecCancelled       ExecState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s ExecState) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// ErrExecTransition is returned by an illegal execution-state transition.
var ErrExecTransition = errors.New("illegal execution state transition")

// Transition is one recorded state change.
type Transition struct {
	From   ExecState `json:"from"`
	To     ExecState `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ExecutionState tracks the execution machine of one plan. A resumption
// always passes through resumed before running again.
type ExecutionState struct {
	PlanID      string       `json:"plan_id"`
	Current     ExecState    `json:"current"`
	Transitions []Transition `json:"transitions,omitempty"`
}

var legalExecTransitions = map[ExecState][]ExecState{
	ExecRunning:         {ExecWaitingApproval, ExecCompleted, ExecFailed, ExecCancelled},
	ExecWaitingApproval: {ExecResumed, ExecCancelled},
	ExecResumed:         {ExecRunning},
}

// NewExecutionState creates a machine in running.
func NewExecutionState(planID string) *ExecutionState {
	return &ExecutionState{PlanID: planID, Current: ExecRunning}
}

// Transition advances the machine, recording the change.
func (s *ExecutionState) Transition(to ExecState, reason string) error {
	allowed := false
	for _, next := range legalExecTransitions[s.Current] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s to %s", ErrExecTransition, s.Current, to)
	}

	s.Transitions = append(s.Transitions, Transition{
		From:   s.Current,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	})
	s.Current = to
	return nil
}
