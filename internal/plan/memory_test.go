package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

func storedPlan(t *testing.T, store *MemoryStore, conversationID string) *models.Plan {
	t.Helper()
	pl := NewPlanner(nil)
	p, err := pl.CreatePlan(conversationID, "goal", []SubtaskSpec{
		{ID: "a", Description: "first", Agent: models.AgentCoder},
		{ID: "b", Description: "second", Agent: models.AgentCoder, Dependencies: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("store plan: %v", err)
	}
	return p
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	p := storedPlan(t, store, "conv-1")

	loaded, err := store.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Goal != "goal" || len(loaded.Subtasks) != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}

	// Clone-on-read: mutating the loaded copy must not leak into the store.
	loaded.MarkSubtask("a", models.SubtaskRunning, "")
	again, _ := store.Get(context.Background(), p.ID)
	if again.Subtask("a").Status != models.SubtaskPending {
		t.Fatal("store state mutated through a read copy")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreFindActiveByConversation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := storedPlan(t, store, "conv-1")
	old.CreatedAt = time.Now().Add(-time.Hour)
	store.Save(ctx, old)

	newer := storedPlan(t, store, "conv-1")

	found, err := store.FindActiveByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if found.ID != newer.ID {
		t.Fatalf("found %s, want the most recent %s", found.ID, newer.ID)
	}

	// Terminal plans are excluded.
	newer.Approve()
	newer.Start()
	newer.Complete()
	store.Save(ctx, newer)
	found, err = store.FindActiveByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if found.ID != old.ID {
		t.Fatalf("found %s, want %s", found.ID, old.ID)
	}

	if _, err := store.FindActiveByConversation(ctx, "conv-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreResumptions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	r := &Resumption{
		PlanID:    "p1",
		SubtaskID: "b",
		Snapshot: &models.Snapshot{
			ConversationID: "conv-1",
			Messages:       []models.Message{{ID: "m1", Role: models.RoleUser, Content: "hi"}},
			CreatedAt:      time.Now(),
		},
		CreatedAt: time.Now(),
	}
	if err := store.SaveResumption(ctx, r); err != nil {
		t.Fatalf("save resumption: %v", err)
	}

	loaded, err := store.GetResumption(ctx, "p1")
	if err != nil {
		t.Fatalf("get resumption: %v", err)
	}
	if loaded.SubtaskID != "b" || len(loaded.Snapshot.Messages) != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}

	if err := store.DeleteResumption(ctx, "p1"); err != nil {
		t.Fatalf("delete resumption: %v", err)
	}
	if _, err := store.GetResumption(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
