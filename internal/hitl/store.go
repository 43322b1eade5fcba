package hitl

import (
	"context"
	"errors"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

var (
	// ErrNotFound is returned when no approval request matches.
	ErrNotFound = errors.New("approval request not found")

	// ErrDuplicate is returned by Insert when the request id already exists.
	ErrDuplicate = errors.New("approval request already exists")
)

// Store persists approval requests.
type Store interface {
	Insert(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error

	// ListPending returns pending requests for a session, optionally filtered
	// by request type (empty = all types).
	ListPending(ctx context.Context, sessionID string, requestType models.RequestType) ([]*models.ApprovalRequest, error)
	CountPending(ctx context.Context, sessionID string) (int, error)

	// DeleteExpiredPending removes pending requests created before the cutoff.
	// An empty sessionID covers all sessions. Returns the number removed.
	DeleteExpiredPending(ctx context.Context, sessionID string, cutoff time.Time) (int, error)
}
