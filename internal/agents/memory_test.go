package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/maestro-agents/maestro/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := models.NewAgentState("conv-1", models.AgentOrchestrator)
	if err := store.Create(ctx, state); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentType != models.AgentOrchestrator || got.ConversationID != "conv-1" {
		t.Fatalf("got %+v", got)
	}

	if err := got.Switch(models.AgentCoder, "code task", "high"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, _ := store.GetByConversation(ctx, "conv-1")
	if again.CurrentType != models.AgentCoder || again.SwitchCount != 1 || len(again.Switches) != 1 {
		t.Fatalf("persisted state = %+v", again)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetByConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCloneOnRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := models.NewAgentState("conv-1", models.AgentOrchestrator)
	store.Create(ctx, state)

	got, _ := store.GetByConversation(ctx, "conv-1")
	got.CurrentType = models.AgentDebug

	again, _ := store.GetByConversation(ctx, "conv-1")
	if again.CurrentType != models.AgentOrchestrator {
		t.Fatal("store state leaked through returned copy")
	}
}
