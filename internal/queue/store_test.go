package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "modernc.org/sqlite"

	"visitsync/internal/queue"
	"visitsync/internal/testsupport"
)

func TestEnqueueAssignsMonotonicIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first, err := store.Enqueue(ctx, "POST", "/api/visits", []byte(`{"member":"m-1"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := store.Enqueue(ctx, "PATCH", "/api/visits/1", []byte(`{"status":"active"}`))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}
	if first.Status != queue.StatusPending || first.RetryCount != 0 {
		t.Fatalf("unexpected initial state: %#v", first)
	}

	// Removing the newest row must not free its id for reuse.
	if _, err := store.Remove(ctx, second.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	third, err := store.Enqueue(ctx, "PUT", "/api/visits/2/note", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if third.ID <= second.ID {
		t.Fatalf("expected id above %d after removal, got %d", second.ID, third.ID)
	}
}

func TestOpenRefusesForeignSchemaVersions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.QueueDBPath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "", "/api/visits", nil); err == nil {
		t.Fatal("expected error for missing method")
	}
	if _, err := store.Enqueue(ctx, "POST", "   ", nil); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestListPendingPreservesInsertionOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 5; i++ {
		m, err := store.Enqueue(ctx, "POST", fmt.Sprintf("/api/visits/%d/note", i), nil)
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, m.ID)
	}

	items, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(items) != len(ids) {
		t.Fatalf("expected %d items, got %d", len(ids), len(items))
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Fatalf("position %d: expected id %d, got %d", i, ids[i], item.ID)
		}
	}
}

func TestMarkInFlightRequiresPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	// Already in flight, a second claim must not succeed.
	if err := store.MarkInFlight(ctx, m.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for double claim, got %v", err)
	}
}

func TestMarkSucceededDeletesRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, m.ID); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	if _, err := store.GetByID(ctx, m.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after success, got %v", err)
	}
}

func TestMarkRetryIncrementsAndClearsError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkRetry(ctx, m.ID); err != nil {
		t.Fatalf("MarkRetry failed: %v", err)
	}

	updated, err := store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending after retry, got %s", updated.Status)
	}
	if updated.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", updated.RetryCount)
	}
	if updated.ErrorMessage != "" {
		t.Fatalf("expected error cleared, got %q", updated.ErrorMessage)
	}
}

func TestRequeueReturnsItemWithoutCharge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.Requeue(ctx, m.ID); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	updated, err := store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusPending {
		t.Fatalf("expected pending after requeue, got %s", updated.Status)
	}
	if updated.RetryCount != 0 {
		t.Fatalf("requeue must not count as an attempt, got %d", updated.RetryCount)
	}

	// Only an in-flight item can be given back.
	if err := store.Requeue(ctx, m.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a pending item, got %v", err)
	}
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkFailed(ctx, m.ID, "HTTP 422: validation failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	failed, err := store.ListFailed(ctx)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "HTTP 422: validation failed" {
		t.Fatalf("unexpected failed listing: %#v", failed)
	}

	// The parked item must not be offered for replay.
	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending failed: %v", err)
	}
	if next != nil {
		t.Fatalf("expected empty pending queue, got %#v", next)
	}
}

func TestRetryFailedResetsBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.MarkInFlight(ctx, m.ID); err != nil {
			t.Fatalf("MarkInFlight failed: %v", err)
		}
		if err := store.MarkRetry(ctx, m.ID); err != nil {
			t.Fatalf("MarkRetry failed: %v", err)
		}
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkFailed(ctx, m.ID, "gave up"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	moved, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 moved, got %d", moved)
	}

	updated, err := store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Status != queue.StatusPending || updated.RetryCount != 0 {
		t.Fatalf("expected fresh pending item, got %#v", updated)
	}
}

func TestResetInFlightRecoversInterruptedReplay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	reset, err := store.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetInFlight failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending failed: %v", err)
	}
	if next == nil || next.ID != m.ID {
		t.Fatalf("expected recovered item, got %#v", next)
	}
}

func TestHealthCountsByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, "POST", fmt.Sprintf("/api/visits/%d", i), nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	failed, err := store.Enqueue(ctx, "POST", "/api/visits/x", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, failed.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 4 || health.Pending != 3 || health.Failed != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}
}

func TestCheckHealthReportsIntegrity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Enqueue(ctx, "POST", "/api/visits", nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected database health: %#v", health)
	}
	if !health.IntegrityCheck || health.TotalItems != 1 {
		t.Fatalf("unexpected integrity result: %#v", health)
	}
}
