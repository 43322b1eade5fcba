package agents

import (
	"context"
	"errors"
	"sync"

	"github.com/maestro-agents/maestro/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for tests and local
// runs.
type MemoryStore struct {
	mu             sync.RWMutex
	byConversation map[string]*models.AgentState
}

// NewMemoryStore creates a new in-memory agent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byConversation: map[string]*models.AgentState{}}
}

func (m *MemoryStore) Create(ctx context.Context, state *models.AgentState) error {
	if state == nil {
		return errors.New("agent state is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := state.Clone()
	if clone.ID == "" {
		clone.ID = models.NewID()
		state.ID = clone.ID
	}
	m.byConversation[clone.ConversationID] = clone
	return nil
}

func (m *MemoryStore) GetByConversation(ctx context.Context, conversationID string) (*models.AgentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.byConversation[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, state *models.AgentState) error {
	if state == nil {
		return errors.New("agent state is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConversation[state.ConversationID] = state.Clone()
	return nil
}
