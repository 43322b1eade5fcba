// Package conversation persists conversations and drives the aggregate-level
// history operations used by the dialogue engine and plan coordinator.
package conversation

import (
	"context"
	"errors"

	"github.com/maestro-agents/maestro/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Store persists conversations.
//
// Mutating operations load the aggregate, apply the corresponding model
// method, and save, so both implementations enforce identical invariants.
// Callers serialize access per conversation through the session lock.
type Store interface {
	Create(ctx context.Context, conv *models.Conversation) error
	FindByID(ctx context.Context, id string) (*models.Conversation, error)
	Save(ctx context.Context, conv *models.Conversation) error
	Delete(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*models.Conversation, error)

	Deactivate(ctx context.Context, id, reason string) error
	AppendMessage(ctx context.Context, id string, msg models.Message) error
	ClearToolMessages(ctx context.Context, id string, fromAgent, toAgent models.AgentType) (models.ClearResult, error)
	CreateSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	RestoreFromSnapshot(ctx context.Context, id string, snap *models.Snapshot) error
	GetLastAssistantMessage(ctx context.Context, id string) (*models.Message, error)
}
