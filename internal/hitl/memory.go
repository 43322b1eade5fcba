package hitl

import (
	"context"
	"sync"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and local
// runs.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
	order    []string
}

// NewMemoryStore creates a new in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: map[string]*models.ApprovalRequest{}}
}

func (m *MemoryStore) Insert(ctx context.Context, req *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.RequestID]; exists {
		return ErrDuplicate
	}
	m.requests[req.RequestID] = req.Clone()
	m.order = append(m.order, req.RequestID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return req.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.RequestID]; !ok {
		return ErrNotFound
	}
	m.requests[req.RequestID] = req.Clone()
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, sessionID string, requestType models.RequestType) ([]*models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.ApprovalRequest
	for _, id := range m.order {
		req := m.requests[id]
		if req == nil || req.Status != models.ApprovalPending {
			continue
		}
		if req.SessionID != sessionID {
			continue
		}
		if requestType != "" && req.RequestType != requestType {
			continue
		}
		out = append(out, req.Clone())
	}
	return out, nil
}

func (m *MemoryStore) CountPending(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, req := range m.requests {
		if req.Status == models.ApprovalPending && req.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) DeleteExpiredPending(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, req := range m.requests {
		if req.Status != models.ApprovalPending {
			continue
		}
		if sessionID != "" && req.SessionID != sessionID {
			continue
		}
		if req.CreatedAt.Before(cutoff) {
			delete(m.requests, id)
			removed++
		}
	}
	if removed > 0 {
		kept := m.order[:0]
		for _, id := range m.order {
			if _, ok := m.requests[id]; ok {
				kept = append(kept, id)
			}
		}
		m.order = kept
	}
	return removed, nil
}
