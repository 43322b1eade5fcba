// Package plan builds and validates dependency-ordered plans, tracks their
// execution state machine, and persists plans with their resumption records.
package plan

import (
	"errors"
	"fmt"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ErrCycle is returned when the dependency graph contains a cycle.
var ErrCycle = errors.New("dependency cycle detected")

// ErrDeadlock is returned when no further subtask can ever become ready.
var ErrDeadlock = errors.New("plan deadlocked: unsatisfiable dependencies")

// GetReadySubtasks returns the subtasks that are pending with every
// dependency done.
func GetReadySubtasks(p *models.Plan) []*models.Subtask {
	var ready []*models.Subtask
	for _, st := range p.Subtasks {
		if st.Status != models.SubtaskPending {
			continue
		}
		satisfied := true
		for _, dep := range st.Dependencies {
			depTask := p.Subtask(dep)
			if depTask == nil || depTask.Status != models.SubtaskDone {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, st)
		}
	}
	return ready
}

// HasCycles reports whether the dependency graph contains a back edge.
func HasCycles(p *models.Plan) bool {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(p.Subtasks))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		st := p.Subtask(id)
		if st != nil {
			for _, dep := range st.Dependencies {
				switch color[dep] {
				case grey:
					return true
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		color[id] = black
		return false
	}

	for _, st := range p.Subtasks {
		if color[st.ID] == white && visit(st.ID) {
			return true
		}
	}
	return false
}

// GetExecutionOrder returns topological levels. Level k holds exactly the
// subtasks whose dependencies are all in levels 0..k-1.
func GetExecutionOrder(p *models.Plan) ([][]*models.Subtask, error) {
	if HasCycles(p) {
		return nil, ErrCycle
	}

	placed := make(map[string]bool, len(p.Subtasks))
	var levels [][]*models.Subtask

	remaining := len(p.Subtasks)
	for remaining > 0 {
		var level []*models.Subtask
		for _, st := range p.Subtasks {
			if placed[st.ID] {
				continue
			}
			eligible := true
			for _, dep := range st.Dependencies {
				if !placed[dep] {
					eligible = false
					break
				}
			}
			if eligible {
				level = append(level, st)
			}
		}
		if len(level) == 0 {
			return nil, ErrDeadlock
		}
		for _, st := range level {
			placed[st.ID] = true
		}
		remaining -= len(level)
		levels = append(levels, level)
	}
	return levels, nil
}

// ValidateDependencies returns human-readable findings covering missing
// dependency ids, self-dependencies, and cycles. Empty means valid.
func ValidateDependencies(p *models.Plan) []string {
	var findings []string
	for _, st := range p.Subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				findings = append(findings, fmt.Sprintf("subtask %s depends on itself", st.ID))
				continue
			}
			if p.Subtask(dep) == nil {
				findings = append(findings, fmt.Sprintf("subtask %s depends on unknown subtask %s", st.ID, dep))
			}
		}
	}
	if HasCycles(p) {
		findings = append(findings, "dependency graph contains a cycle")
	}
	return findings
}

// GetDependents returns the subtasks whose dependency set contains
// subtaskID.
func GetDependents(p *models.Plan, subtaskID string) []*models.Subtask {
	var dependents []*models.Subtask
	for _, st := range p.Subtasks {
		for _, dep := range st.Dependencies {
			if dep == subtaskID {
				dependents = append(dependents, st)
				break
			}
		}
	}
	return dependents
}

// GetTransitiveDependents returns every subtask reachable from subtaskID
// through reverse dependency edges, used for failure propagation.
func GetTransitiveDependents(p *models.Plan, subtaskID string) []*models.Subtask {
	seen := map[string]bool{subtaskID: true}
	var out []*models.Subtask
	queue := []string{subtaskID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, st := range GetDependents(p, id) {
			if seen[st.ID] {
				continue
			}
			seen[st.ID] = true
			out = append(out, st)
			queue = append(queue, st.ID)
		}
	}
	return out
}
