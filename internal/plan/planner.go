package plan

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ErrInvalidPlan is returned when subtask specs fail structural validation.
var ErrInvalidPlan = errors.New("invalid plan")

// SubtaskSpec is the planner's input for one subtask.
type SubtaskSpec struct {
	ID            string
	Description   string
	Agent         models.AgentType
	Dependencies  []string
	EstimatedTime string
}

// Planner builds validated draft plans.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{logger: logger.With("component", "planner")}
}

// CreatePlan validates the specs and returns a new draft plan. Ids must be
// unique, dependencies must name existing subtasks other than their owner,
// and the graph must be acyclic.
func (pl *Planner) CreatePlan(conversationID, goal string, specs []SubtaskSpec) (*models.Plan, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no subtasks", ErrInvalidPlan)
	}

	now := time.Now()
	p := &models.Plan{
		ID:             models.NewID(),
		ConversationID: conversationID,
		Goal:           goal,
		Status:         models.PlanDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: subtask with empty id", ErrInvalidPlan)
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("%w: duplicate subtask id %s", ErrInvalidPlan, spec.ID)
		}
		seen[spec.ID] = true

		p.Subtasks = append(p.Subtasks, &models.Subtask{
			ID:            spec.ID,
			PlanID:        p.ID,
			Description:   spec.Description,
			Agent:         spec.Agent,
			Dependencies:  append([]string(nil), spec.Dependencies...),
			Status:        models.SubtaskPending,
			EstimatedTime: spec.EstimatedTime,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if findings := ValidateDependencies(p); len(findings) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPlan, findings[0])
	}

	pl.logger.Info("plan created",
		"plan_id", p.ID,
		"conversation_id", conversationID,
		"subtasks", len(p.Subtasks))
	return p, nil
}
