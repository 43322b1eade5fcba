package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and local
// runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: map[string]*models.Conversation{}}
}

func (m *MemoryStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := conv.Clone()
	if clone.ID == "" {
		clone.ID = models.NewID()
	}
	if clone.CreatedAt.IsZero() {
		now := time.Now()
		clone.CreatedAt = now
		clone.UpdatedAt = now
		clone.LastActivity = now
	}
	// Reflect generated fields back to caller.
	conv.ID = clone.ID
	conv.CreatedAt = clone.CreatedAt
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*models.Conversation
	for _, conv := range m.conversations {
		if conv.Active {
			active = append(active, conv.Clone())
		}
	}
	return active, nil
}

func (m *MemoryStore) Deactivate(ctx context.Context, id, reason string) error {
	return m.mutate(id, func(conv *models.Conversation) error {
		conv.Deactivate(reason)
		return nil
	})
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return m.mutate(id, func(conv *models.Conversation) error {
		return conv.Append(msg)
	})
}

func (m *MemoryStore) ClearToolMessages(ctx context.Context, id string, fromAgent, toAgent models.AgentType) (models.ClearResult, error) {
	var result models.ClearResult
	err := m.mutate(id, func(conv *models.Conversation) error {
		result = conv.ClearToolMessages(fromAgent, toAgent)
		return nil
	})
	return result, err
}

func (m *MemoryStore) CreateSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.NewSnapshot(), nil
}

func (m *MemoryStore) RestoreFromSnapshot(ctx context.Context, id string, snap *models.Snapshot) error {
	return m.mutate(id, func(conv *models.Conversation) error {
		conv.Restore(snap)
		return nil
	})
}

func (m *MemoryStore) GetLastAssistantMessage(ctx context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.LastAssistantMessage(), nil
}

func (m *MemoryStore) mutate(id string, fn func(*models.Conversation) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	return fn(conv)
}
