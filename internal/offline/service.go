package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visitsync/internal/cache"
	"visitsync/internal/config"
	"visitsync/internal/logging"
	"visitsync/internal/netmon"
	"visitsync/internal/queue"
	"visitsync/internal/remote"
	"visitsync/internal/syncer"
)

// Service wires the offline subsystems together: the durable mutation queue,
// the connectivity monitor, the upstream client, the sync engine, and the
// read cache. The daemon and IPC layers talk only to this facade.
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	cache   *cache.Store
	client  *remote.Client
	monitor *netmon.Monitor
	engine  *syncer.Engine
}

// NewService opens the queue and cache databases and constructs the sync
// machinery. Nothing runs until Start is called.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	var cacheStore *cache.Store
	if cfg.Cache.Enabled {
		cacheStore, err = cache.Open(cfg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open cache store: %w", err)
		}
	}

	deviceID, err := remote.LoadDeviceID(cfg.Paths.DataDir)
	if err != nil {
		store.Close()
		if cacheStore != nil {
			cacheStore.Close()
		}
		return nil, fmt.Errorf("load device id: %w", err)
	}

	client := remote.New(cfg, deviceID)
	probeTimeout := 5 * time.Second
	monitor := netmon.New(func(ctx context.Context) error {
		return client.CheckHealth(ctx, cfg.API.HealthPath, probeTimeout)
	}, time.Duration(cfg.Sync.ProbeInterval)*time.Second, logger)
	engine := syncer.New(store, client, monitor, cfg.Sync, logger)

	return &Service{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "offline"),
		store:   store,
		cache:   cacheStore,
		client:  client,
		monitor: monitor,
		engine:  engine,
	}, nil
}

// Start activates the current cache generation, begins connectivity probing,
// and starts the sync engine, which drains any mutations left over from a
// previous run.
func (s *Service) Start(ctx context.Context) error {
	if s.cache != nil {
		removed, err := s.cache.Activate(ctx)
		if err != nil {
			return fmt.Errorf("activate cache generation: %w", err)
		}
		if removed > 0 {
			s.logger.Info("stale cache generation removed", logging.Int64("entries", removed))
		}
	}

	s.monitor.Start(ctx)
	if err := s.engine.Start(ctx); err != nil {
		s.monitor.Stop()
		return fmt.Errorf("start sync engine: %w", err)
	}
	return nil
}

// Stop halts the engine and monitor. In-flight replay is given a chance to
// finish before the databases close.
func (s *Service) Stop() {
	s.engine.Stop()
	s.monitor.Stop()
}

// Close releases the underlying databases.
func (s *Service) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue exposes the mutation store for inspection commands.
func (s *Service) Queue() *queue.Store { return s.store }

// CacheStore returns the response cache, or nil when caching is disabled.
func (s *Service) CacheStore() *cache.Store { return s.cache }

// Client returns the upstream API client.
func (s *Service) Client() *remote.Client { return s.client }

// Monitor returns the connectivity monitor.
func (s *Service) Monitor() *netmon.Monitor { return s.monitor }

// IsOnline reports the monitor's current connectivity belief.
func (s *Service) IsOnline() bool { return s.monitor.IsOnline() }

// SyncState returns a snapshot of the engine and queue state.
func (s *Service) SyncState(ctx context.Context) (syncer.SyncState, error) {
	return s.engine.Snapshot(ctx)
}

// SubscribeSync registers for sync state changes and returns an unsubscribe
// function.
func (s *Service) SubscribeSync(fn func(syncer.SyncState)) func() {
	return s.engine.Subscribe(fn)
}

// TriggerSync requests a drain pass. Safe to call at any time.
func (s *Service) TriggerSync() { s.engine.Trigger() }

// RetryFailedMutations moves parked mutations back to pending with a fresh
// attempt budget and triggers a drain.
func (s *Service) RetryFailedMutations(ctx context.Context, ids ...int64) (int64, error) {
	return s.engine.RetryFailed(ctx, ids...)
}

// DiscardFailedMutation permanently deletes a parked mutation.
func (s *Service) DiscardFailedMutation(ctx context.Context, id int64) error {
	return s.engine.DiscardFailed(ctx, id)
}

// FailedMutations lists mutations that exhausted their attempts or hit a
// terminal server error.
func (s *Service) FailedMutations(ctx context.Context) ([]*queue.Mutation, error) {
	return s.store.ListFailed(ctx)
}

// PendingMutations lists mutations awaiting replay in order.
func (s *Service) PendingMutations(ctx context.Context) ([]*queue.Mutation, error) {
	return s.store.ListPending(ctx)
}

// EnqueueWrite persists a mutation without attempting delivery and triggers
// a drain when online.
func (s *Service) EnqueueWrite(ctx context.Context, method, url string, body []byte) (*queue.Mutation, error) {
	m, err := s.store.Enqueue(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	s.logger.Info("mutation queued",
		logging.Int64(logging.FieldMutationID, m.ID),
		logging.String("label", m.Label()),
	)
	if s.monitor.IsOnline() {
		s.engine.Trigger()
	}
	return m, nil
}

// Do delivers a write immediately when possible. The server's response is
// returned for relaying, success or not; the write is captured into the queue
// when the network is down, when the delivery itself fails in transport, or
// when earlier mutations are still pending and replaying out of turn could
// reorder dependent writes. Exactly one of the mutation and the result is
// non-nil on a nil error.
func (s *Service) Do(ctx context.Context, method, url string, body []byte) (*queue.Mutation, *remote.Result, error) {
	if !s.monitor.IsOnline() {
		m, err := s.EnqueueWrite(ctx, method, url, body)
		return m, nil, err
	}

	health, err := s.store.Health(ctx)
	if err != nil {
		return nil, nil, err
	}
	if health.Pending+health.InFlight > 0 {
		// A queued create may hold the id this write depends on; it goes
		// to the back of the line.
		m, err := s.EnqueueWrite(ctx, method, url, body)
		return m, nil, err
	}

	res, err := s.client.Deliver(ctx, method, url, body)
	if err != nil {
		var replayErr *remote.ReplayError
		if errors.As(err, &replayErr) {
			// Request could not even be built; queueing would not help.
			return nil, nil, err
		}
		s.monitor.ReportFailure()
		m, qerr := s.EnqueueWrite(ctx, method, url, body)
		return m, nil, qerr
	}

	s.monitor.ReportSuccess()
	return nil, res, nil
}
