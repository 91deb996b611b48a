package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"visitsync/internal/config"
	"visitsync/internal/logging"
	"visitsync/internal/offline"
	"visitsync/internal/queue"
	"visitsync/internal/syncer"
)

// Daemon hosts the offline service and the local proxy, and enforces
// single-instance execution per data directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *offline.Service
	logPath string

	lockPath string
	lock     *flock.Flock

	proxy    *http.Server
	listener net.Listener

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Online       bool
	Sync         syncer.SyncState
	ProxyAddr    string
	QueueDBPath  string
	CacheDBPath  string
	CacheEntries int
	LockFilePath string
	PID          int
}

// New constructs a daemon around an offline service.
func New(cfg *config.Config, svc *offline.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and offline service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "visitsyncd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		service:  svc,
		logPath:  filepath.Join(cfg.Paths.LogDir, "visitsync.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, starts the offline service, and begins
// serving the local proxy.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another visitsync daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.service.Start(d.ctx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start offline service: %w", err)
	}

	listener, err := net.Listen("tcp", d.cfg.Proxy.Bind)
	if err != nil {
		d.service.Stop()
		d.releaseStart()
		return fmt.Errorf("listen on %s: %w", d.cfg.Proxy.Bind, err)
	}
	d.listener = listener
	d.proxy = &http.Server{
		Handler:           d.proxyHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := d.proxy.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("proxy server stopped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "proxy_server_stopped"),
				logging.String(logging.FieldErrorHint, "check whether the bind address is already in use"))
		}
	}()

	d.running.Store(true)
	d.logger.Info("visitsync daemon started",
		logging.String("proxy", listener.Addr().String()),
		logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop shuts the proxy down, halts syncing, and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.proxy != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.proxy.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("proxy shutdown incomplete", logging.Error(err))
		}
		cancel()
		d.proxy = nil
		d.listener = nil
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.service.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("visitsync daemon stopped")
}

// Close stops the daemon and releases the databases.
func (d *Daemon) Close() error {
	d.Stop()
	return d.service.Close()
}

// Status summarizes daemon, connectivity, and queue state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Online:       d.service.IsOnline(),
		QueueDBPath:  d.cfg.QueueDBPath(),
		LockFilePath: d.lockPath,
		PID:          os.Getpid(),
	}
	if d.listener != nil {
		status.ProxyAddr = d.listener.Addr().String()
	}
	if state, err := d.service.SyncState(ctx); err == nil {
		status.Sync = state
	}
	if cacheStore := d.service.CacheStore(); cacheStore != nil {
		status.CacheDBPath = cacheStore.Path()
		if count, err := cacheStore.Count(ctx); err == nil {
			status.CacheEntries = count
		}
	}
	return status
}

// SyncNow requests an immediate drain pass.
func (d *Daemon) SyncNow() {
	d.service.TriggerSync()
}

// ListQueue returns mutations filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Mutation, error) {
	store := d.service.Queue()
	if len(statuses) == 1 && statuses[0] == queue.StatusFailed {
		return store.ListFailed(ctx)
	}
	items, err := store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		failed, err := store.ListFailed(ctx)
		if err != nil {
			return nil, err
		}
		return append(items, failed...), nil
	}
	wanted := make(map[queue.Status]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	filtered := items[:0]
	for _, item := range items {
		if _, ok := wanted[item.Status]; ok {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// GetQueueItem fetches a single mutation by id.
func (d *Daemon) GetQueueItem(ctx context.Context, id int64) (*queue.Mutation, error) {
	return d.service.Queue().GetByID(ctx, id)
}

// ClearQueue removes every mutation regardless of status.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.service.Queue().Clear(ctx)
}

// RetryFailed resets failed mutations (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.service.RetryFailedMutations(ctx, ids...)
}

// DiscardFailed permanently removes a failed mutation.
func (d *Daemon) DiscardFailed(ctx context.Context, id int64) error {
	return d.service.DiscardFailedMutation(ctx, id)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.service.Queue().Health(ctx)
}

// DatabaseHealth returns detailed queue database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.service.Queue().CheckHealth(ctx)
}

// ClearCache removes every cached response.
func (d *Daemon) ClearCache(ctx context.Context) (int64, error) {
	cacheStore := d.service.CacheStore()
	if cacheStore == nil {
		return 0, nil
	}
	return cacheStore.Clear(ctx)
}

// LogPath returns the daemon log file path.
func (d *Daemon) LogPath() string {
	return d.logPath
}
