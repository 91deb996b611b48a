package netmon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"visitsync/internal/netmon"
)

func TestMonitorStartsOptimistic(t *testing.T) {
	m := netmon.New(nil, time.Minute, nil)
	if !m.IsOnline() {
		t.Fatal("expected monitor to start online")
	}
}

func TestReportFailureFlipsOffline(t *testing.T) {
	m := netmon.New(nil, time.Minute, nil)

	var mu sync.Mutex
	var transitions []bool
	unsubscribe := m.Subscribe(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})
	defer unsubscribe()

	m.ReportFailure()
	if m.IsOnline() {
		t.Fatal("expected offline after reported failure")
	}
	m.ReportFailure()
	m.ReportSuccess()
	if !m.IsOnline() {
		t.Fatal("expected online after reported success")
	}

	mu.Lock()
	defer mu.Unlock()
	// The duplicate failure must not produce a second notification.
	if len(transitions) != 2 || transitions[0] != false || transitions[1] != true {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	m := netmon.New(nil, time.Minute, nil)

	calls := 0
	unsubscribe := m.Subscribe(func(bool) { calls++ })
	m.ReportFailure()
	unsubscribe()
	m.ReportSuccess()

	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
}

func TestProbeLoopDetectsRecovery(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	probe := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	}

	m := netmon.New(probe, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	defer m.Stop()

	waitForState(t, m, false)

	mu.Lock()
	healthy = true
	mu.Unlock()

	waitForState(t, m, true)
}

func waitForState(t *testing.T, m *netmon.Monitor, online bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.IsOnline() == online {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("monitor never reached online=%v", online)
}
