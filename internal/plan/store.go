package plan

import (
	"context"
	"errors"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ErrNotFound is returned when a plan or resumption record does not exist.
var ErrNotFound = errors.New("plan not found")

// Resumption captures where a paused plan continues after an approval
// decision. At most one resumption exists per plan.
type Resumption struct {
	PlanID    string           `json:"plan_id"`
	SubtaskID string           `json:"subtask_id"`
	Snapshot  *models.Snapshot `json:"snapshot"`
	CreatedAt time.Time        `json:"created_at"`
}

// Store persists plans and their resumption records.
type Store interface {
	Create(ctx context.Context, p *models.Plan) error
	Get(ctx context.Context, planID string) (*models.Plan, error)
	Save(ctx context.Context, p *models.Plan) error

	// FindActiveByConversation returns the most recent non-terminal plan
	// for a conversation, or ErrNotFound.
	FindActiveByConversation(ctx context.Context, conversationID string) (*models.Plan, error)

	SaveResumption(ctx context.Context, r *Resumption) error
	GetResumption(ctx context.Context, planID string) (*Resumption, error)
	DeleteResumption(ctx context.Context, planID string) error
}
