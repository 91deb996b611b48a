package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"visitsync/internal/logging"
)

// Probe checks reachability of the upstream API. A nil return means online.
type Probe func(ctx context.Context) error

// Monitor maintains the authoritative connectivity boolean and notifies
// subscribers on transitions. Detection is best-effort: the probe can report
// online while a specific endpoint is unreachable, so replay failures feed
// back in through ReportFailure rather than being assumed away.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	online  bool
	nextID  int
	subs    map[int]func(bool)
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a monitor polling the given probe. The monitor starts
// optimistic (online); the first probe corrects it within one interval.
func New(probe Probe, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logging.NewComponentLogger(logger, "netmon"),
		online:   true,
		subs:     make(map[int]func(bool)),
	}
}

// Start begins the probe loop. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.probe == nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.runProbe(runCtx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.runProbe(runCtx)
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Monitor) runProbe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return
	}
	m.setOnline(err == nil)
}

// IsOnline reports the current connectivity signal.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition callback and returns an unsubscribe
// function. Callbacks fire exactly once per actual state change.
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ReportSuccess feeds an observed successful upstream call back into the
// monitor, flipping to online without waiting for the next probe.
func (m *Monitor) ReportSuccess() {
	m.setOnline(true)
}

// ReportFailure feeds an observed transport failure back into the monitor.
// Only connectivity-class failures should be reported; an upstream 4xx or
// 5xx proves the server is reachable.
func (m *Monitor) ReportFailure() {
	m.setOnline(false)
}

func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", logging.Bool(logging.FieldOnline, online))
	for _, fn := range subs {
		fn(online)
	}
}
