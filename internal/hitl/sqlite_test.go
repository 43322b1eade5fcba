package hitl

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maestro-agents/maestro/pkg/models"
)

func newFileStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "maestro.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore on a fresh database failed: %v", err)
	}
	return store
}

func pendingRequest(id string, createdAt time.Time) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		RequestID:   id,
		RequestType: models.RequestTool,
		Subject:     "write_file",
		SessionID:   "conv-1",
		Details:     map[string]any{"path": "foo.txt"},
		Reason:      "modifies files",
		Status:      models.ApprovalPending,
		CreatedAt:   createdAt,
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	req := pendingRequest("call_1", now)
	if err := store.Insert(ctx, req); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, req); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate insert err = %v, want ErrDuplicate", err)
	}

	got, err := store.Get(ctx, "call_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.ApprovalPending || got.Subject != "write_file" ||
		got.Details["path"] != "foo.txt" {
		t.Fatalf("request = %+v", got)
	}

	pending, err := store.ListPending(ctx, "conv-1", "")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	byPlan, err := store.ListPending(ctx, "conv-1", models.RequestPlan)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byPlan) != 0 {
		t.Fatalf("plan-typed pending = %d", len(byPlan))
	}

	decided := now.Add(time.Minute)
	got.Status = models.ApprovalApproved
	got.DecisionReason = "looks safe"
	got.DecidedAt = &decided
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = store.Get(ctx, "call_1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Status != models.ApprovalApproved || got.DecisionReason != "looks safe" || got.DecidedAt == nil {
		t.Fatalf("request after update = %+v", got)
	}

	count, err := store.CountPending(ctx, "conv-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d", count)
	}
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, pendingRequest("call_old", now.Add(-time.Hour))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, pendingRequest("call_new", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := store.DeleteExpiredPending(ctx, "conv-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d", n)
	}
	if _, err := store.Get(ctx, "call_old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired request err = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "call_new"); err != nil {
		t.Fatalf("fresh request: %v", err)
	}
}
