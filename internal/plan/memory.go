package plan

import (
	"context"
	"sync"

	"github.com/maestro-agents/maestro/pkg/models"
)

// MemoryStore is the in-memory Store used when no database is configured.
// Reads return clones so callers cannot mutate shared state.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[string]*models.Plan
	resumptions map[string]*Resumption
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[string]*models.Plan),
		resumptions: make(map[string]*Resumption),
	}
}

func (s *MemoryStore) Create(_ context.Context, p *models.Plan) error {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, planID string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, p *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) FindActiveByConversation(_ context.Context, conversationID string) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Plan
	for _, p := range s.plans {
		if p.ConversationID != conversationID || p.Status.Terminal() {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (s *MemoryStore) SaveResumption(_ context.Context, r *Resumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.resumptions[r.PlanID] = &clone
	return nil
}

func (s *MemoryStore) GetResumption(_ context.Context, planID string) (*Resumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resumptions[planID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryStore) DeleteResumption(_ context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resumptions, planID)
	return nil
}
