package agents

import (
	"context"
	"errors"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ErrNotFound is returned when no agent state exists for a conversation.
var ErrNotFound = errors.New("agent state not found")

// Store persists the per-conversation agent state and its switch history.
type Store interface {
	Create(ctx context.Context, state *models.AgentState) error
	GetByConversation(ctx context.Context, conversationID string) (*models.AgentState, error)
	Save(ctx context.Context, state *models.AgentState) error
}
