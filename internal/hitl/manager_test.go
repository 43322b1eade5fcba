package hitl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maestro-agents/maestro/internal/events"
	"github.com/maestro-agents/maestro/pkg/models"
)

func newManager(t *testing.T, bus *events.Bus) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), DefaultPolicy(), bus, time.Minute, nil)
}

func TestAddPendingIdempotent(t *testing.T) {
	mgr := newManager(t, nil)
	ctx := context.Background()

	if err := mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", map[string]any{"path": "a.txt"}, "modifies files"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Second add with the same id is a logged no-op.
	if err := mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", nil, ""); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}

	count, _ := mgr.CountPending(ctx, "conv-1")
	if count != 1 {
		t.Fatalf("pending count = %d, want 1", count)
	}
	// Details from the first insert are preserved.
	req, err := mgr.GetPending(ctx, "req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Details["path"] != "a.txt" {
		t.Fatalf("details = %v", req.Details)
	}
}

func TestApproveThenApproveIsTerminal(t *testing.T) {
	mgr := newManager(t, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", nil, "")
	if _, err := mgr.Approve(ctx, "req-1", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err := mgr.Approve(ctx, "req-1", nil)
	if !errors.Is(err, models.ErrApprovalTerminal) {
		t.Fatalf("second approve err = %v, want ErrApprovalTerminal", err)
	}
}

func TestRejectRecordsReason(t *testing.T) {
	mgr := newManager(t, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-1", models.RequestTool, "delete_file", "conv-1", nil, "")
	req, err := mgr.Reject(ctx, "req-1", "too risky")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if req.Status != models.ApprovalRejected || req.DecisionReason != "too risky" {
		t.Fatalf("req = %+v", req)
	}
}

func TestApproveWithModifiedArguments(t *testing.T) {
	mgr := newManager(t, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", map[string]any{"path": "a.txt"}, "")
	req, err := mgr.Approve(ctx, "req-1", map[string]any{"path": "b.txt"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if req.ModifiedArguments["path"] != "b.txt" {
		t.Fatalf("modified args = %v", req.ModifiedArguments)
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	mgr := newManager(t, nil)
	_, err := mgr.Approve(context.Background(), "ghost", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, DefaultPolicy(), nil, time.Millisecond, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-old", models.RequestTool, "write_file", "conv-1", nil, "")
	time.Sleep(5 * time.Millisecond)

	removed, err := mgr.CleanupExpired(ctx, "conv-1")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if count, _ := mgr.CountPending(ctx, "conv-1"); count != 0 {
		t.Fatalf("pending count = %d, want 0", count)
	}
}

func TestDecisionsExpireOnlyPending(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, DefaultPolicy(), nil, time.Millisecond, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", nil, "")
	mgr.Approve(ctx, "req-1", nil)
	time.Sleep(5 * time.Millisecond)

	removed, _ := mgr.CleanupExpired(ctx, "conv-1")
	if removed != 0 {
		t.Fatalf("decided requests must survive the sweep, removed = %d", removed)
	}
}

func TestEventsPublishedOnAddAndDecide(t *testing.T) {
	bus := events.NewBus(nil)
	var seen []events.Type
	bus.SubscribeAll("recorder", func(_ context.Context, ev events.Event) error {
		seen = append(seen, ev.EventType())
		return nil
	})

	mgr := newManager(t, bus)
	ctx := context.Background()
	mgr.AddPending(ctx, "req-1", models.RequestTool, "write_file", "conv-1", nil, "modifies files")
	mgr.Approve(ctx, "req-1", nil)

	if len(seen) != 2 || seen[0] != events.TypeToolApprovalRequested || seen[1] != events.TypeHITLDecisionMade {
		t.Fatalf("events = %v", seen)
	}
}

func TestGetAllPendingFiltersByType(t *testing.T) {
	mgr := newManager(t, nil)
	ctx := context.Background()

	mgr.AddPending(ctx, "req-tool", models.RequestTool, "write_file", "conv-1", nil, "")
	mgr.AddPending(ctx, "req-plan", models.RequestPlan, "plan-1", "conv-1", nil, "")

	plans, err := mgr.GetAllPending(ctx, "conv-1", models.RequestPlan)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(plans) != 1 || plans[0].RequestID != "req-plan" {
		t.Fatalf("plans = %+v", plans)
	}

	all, _ := mgr.GetAllPending(ctx, "conv-1", "")
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
}
