package offline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"visitsync/internal/offline"
	"visitsync/internal/queue"
	"visitsync/internal/testsupport"
)

func newService(t *testing.T, baseURL string) *offline.Service {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithBaseURL(baseURL),
		testsupport.WithFastBackoff(),
	)
	svc, err := offline.NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		_ = svc.Close()
	})
	return svc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDoDeliversImmediatelyWhenOnline(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	queued, res, err := svc.Do(ctx, "POST", "/api/visits", []byte(`{}`))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if queued != nil {
		t.Fatalf("expected direct delivery, got queued mutation %d", queued.ID)
	}
	if res == nil || res.StatusCode != http.StatusCreated {
		t.Fatalf("expected the server's 201, got %#v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}

	health, err := svc.Queue().Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 0 {
		t.Fatalf("nothing should be queued, got %d", health.Total)
	}
}

func TestDoSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"missing member"}`))
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	queued, res, err := svc.Do(ctx, "POST", "/api/visits", []byte(`{}`))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if queued != nil {
		t.Fatal("server rejections must not be queued")
	}
	if res == nil || res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected the server's 422 relayed, got %#v", res)
	}
	if !strings.Contains(string(res.Body), "missing member") {
		t.Fatalf("expected the server's error body, got %q", res.Body)
	}
	if !svc.IsOnline() {
		t.Fatal("a server response proves reachability")
	}
}

func TestDoCapturesWriteOnTransportFailure(t *testing.T) {
	// Nothing listens on this port; connections are refused.
	svc := newService(t, "http://127.0.0.1:1")
	ctx := context.Background()

	queued, _, err := svc.Do(ctx, "POST", "/api/visits", []byte(`{"member":"m-1"}`))
	if err != nil {
		t.Fatalf("capture must not error: %v", err)
	}
	if queued == nil {
		t.Fatal("expected queued mutation")
	}
	if queued.Status != queue.StatusPending {
		t.Fatalf("expected pending capture, got %s", queued.Status)
	}
	if svc.IsOnline() {
		t.Fatal("transport failure must flip the monitor offline")
	}

	// Offline now; the next write skips the network attempt entirely.
	second, _, err := svc.Do(ctx, "PATCH", "/api/visits/1", nil)
	if err != nil {
		t.Fatalf("offline capture failed: %v", err)
	}
	if second == nil || second.ID <= queued.ID {
		t.Fatalf("expected ordered capture, got %#v", second)
	}

	pending, err := svc.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
}

func TestDoQueuesBehindPendingBacklog(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()

	// A backlog exists and the engine is not draining; a new dependent
	// write must not overtake it.
	first, err := svc.EnqueueWrite(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}

	second, res, err := svc.Do(ctx, "PATCH", "/api/visits/1", nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if res != nil {
		t.Fatal("a write behind a backlog must not be delivered directly")
	}
	if second == nil || second.ID <= first.ID {
		t.Fatalf("expected the write queued behind %d, got %#v", first.ID, second)
	}
	if calls.Load() != 0 {
		t.Fatalf("no upstream call expected, got %d", calls.Load())
	}

	pending, err := svc.PendingMutations(ctx)
	if err != nil {
		t.Fatalf("PendingMutations failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected FIFO backlog, got %#v", pending)
	}
}

func TestEnqueuedWritesDrainOnTrigger(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := newService(t, server.URL)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, err := svc.EnqueueWrite(ctx, "POST", "/api/visits", nil); err != nil {
		t.Fatalf("EnqueueWrite failed: %v", err)
	}

	waitFor(t, "queued write to replay", func() bool {
		health, err := svc.Queue().Health(ctx)
		return err == nil && health.Total == 0
	})
	if calls.Load() == 0 {
		t.Fatal("expected replay to reach upstream")
	}
}

func TestStartRecoversInterruptedWrites(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithBaseURL(server.URL),
		testsupport.WithFastBackoff(),
	)

	// Simulate a crash mid-replay before the service ever runs.
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	m, err := store.Enqueue(ctx, "POST", "/api/visits", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.MarkInFlight(ctx, m.ID); err != nil {
		t.Fatalf("MarkInFlight failed: %v", err)
	}

	svc, err := offline.NewService(cfg, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		_ = svc.Close()
	})
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "recovered write to replay", func() bool {
		health, err := svc.Queue().Health(ctx)
		return err == nil && health.Total == 0
	})
	if calls.Load() == 0 {
		t.Fatal("expected recovered item to reach upstream")
	}
}
