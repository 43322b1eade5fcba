package hitl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/pkg/models"
)

// Manager combines the policy and the approval store, publishing bus events
// on every add and decision.
type Manager struct {
	store   Store
	policy  *Policy
	bus     *events.Bus
	timeout time.Duration
	logger  *slog.Logger
}

// NewManager creates an approval manager. timeout bounds how long a pending
// request survives before the expiry sweep removes it.
func NewManager(store Store, policy *Policy, bus *events.Bus, timeout time.Duration, logger *slog.Logger) *Manager {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		policy:  policy,
		bus:     bus,
		timeout: timeout,
		logger:  logger.With("component", "hitl"),
	}
}

// Policy returns the active approval policy.
func (m *Manager) Policy() *Policy {
	return m.policy
}

// RequiresApproval evaluates the policy for one tool name.
func (m *Manager) RequiresApproval(toolName string) (bool, string) {
	return m.policy.Evaluate(toolName)
}

// AddPending inserts a pending request. A duplicate request id is a logged
// no-op, so retried turns cannot double-register.
func (m *Manager) AddPending(ctx context.Context, requestID string, requestType models.RequestType, subject, sessionID string, details map[string]any, reason string) error {
	req := &models.ApprovalRequest{
		RequestID:   requestID,
		RequestType: requestType,
		Subject:     subject,
		SessionID:   sessionID,
		Details:     details,
		Reason:      reason,
		Status:      models.ApprovalPending,
		CreatedAt:   time.Now(),
	}
	if err := m.store.Insert(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicate) {
			m.logger.Warn("duplicate approval request ignored", "request_id", requestID, "session_id", sessionID)
			return nil
		}
		return err
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.NewToolApprovalRequested(sessionID, requestID, subject, reason))
	}
	return nil
}

// GetPending returns one request if it is still pending.
func (m *Manager) GetPending(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	req, err := m.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ApprovalPending {
		return nil, fmt.Errorf("%w: request %s is %s", models.ErrApprovalTerminal, requestID, req.Status)
	}
	return req, nil
}

// GetAllPending lists pending requests for a session, optionally by type.
func (m *Manager) GetAllPending(ctx context.Context, sessionID string, requestType models.RequestType) ([]*models.ApprovalRequest, error) {
	return m.store.ListPending(ctx, sessionID, requestType)
}

// CountPending counts pending requests for a session.
func (m *Manager) CountPending(ctx context.Context, sessionID string) (int, error) {
	return m.store.CountPending(ctx, sessionID)
}

// Approve advances a pending request to approved, optionally substituting
// edited arguments. Legal only from pending.
func (m *Manager) Approve(ctx context.Context, requestID string, modifiedArgs map[string]any) (*models.ApprovalRequest, error) {
	return m.decide(ctx, requestID, models.DecisionApprove, func(req *models.ApprovalRequest) error {
		return req.Approve(modifiedArgs)
	})
}

// Reject advances a pending request to rejected. Legal only from pending.
func (m *Manager) Reject(ctx context.Context, requestID, reason string) (*models.ApprovalRequest, error) {
	return m.decide(ctx, requestID, models.DecisionReject, func(req *models.ApprovalRequest) error {
		return req.Reject(reason)
	})
}

func (m *Manager) decide(ctx context.Context, requestID string, decision models.Decision, apply func(*models.ApprovalRequest) error) (*models.ApprovalRequest, error) {
	req, err := m.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := apply(req); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, req); err != nil {
		return nil, err
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.NewHITLDecisionMade(req.SessionID, requestID, req.RequestType, decision))
	}
	return req, nil
}

// CleanupExpired removes pending requests older than the approval timeout.
// An empty sessionID sweeps every session.
func (m *Manager) CleanupExpired(ctx context.Context, sessionID string) (int, error) {
	cutoff := time.Now().Add(-m.timeout)
	removed, err := m.store.DeleteExpiredPending(ctx, sessionID, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Info("expired pending approvals removed", "count", removed, "session_id", sessionID)
	}
	return removed, nil
}
