package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"visitsync/internal/config"
	"visitsync/internal/logging"
	"visitsync/internal/netmon"
	"visitsync/internal/queue"
	"visitsync/internal/remote"
)

// Engine drains the mutation queue against the upstream API. One drain pass
// runs at a time; concurrent triggers coalesce into the active pass. Within a
// pass exactly one mutation is in flight, preserving FIFO replay for
// dependent writes (create-then-patch must never reorder).
type Engine struct {
	store   *queue.Store
	client  *remote.Client
	monitor *netmon.Monitor
	logger  *slog.Logger

	maxAttempts int
	itemTimeout time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu          sync.Mutex
	started     bool
	syncing     bool
	rerun       bool
	currentItem string
	lastSyncAt  time.Time
	nextSub     int
	subs        map[int]func(SyncState)
	resumeTimer *time.Timer

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	unsubscribe func()
}

// New constructs a sync engine. The monitor may be nil in tests; triggers
// then come only from explicit calls.
func New(store *queue.Store, client *remote.Client, monitor *netmon.Monitor, syncCfg config.Sync, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:       store,
		client:      client,
		monitor:     monitor,
		logger:      logging.NewComponentLogger(logger, "syncer"),
		maxAttempts: syncCfg.MaxAttempts,
		itemTimeout: time.Duration(syncCfg.ItemTimeoutSeconds) * time.Second,
		baseBackoff: time.Duration(syncCfg.BaseBackoffSeconds) * time.Second,
		maxBackoff:  time.Duration(syncCfg.MaxBackoffSeconds) * time.Second,
		subs:        make(map[int]func(SyncState)),
	}
}

// Start performs crash recovery and begins reacting to connectivity changes.
// A mutation left in_flight by a previous process has an unknown outcome, so
// it is returned to pending and replayed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("sync engine already started")
	}
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.started = true
	e.mu.Unlock()

	reset, err := e.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		e.logger.Info("recovered interrupted replay",
			logging.Int64("mutations", reset),
			logging.String(logging.FieldEventType, "in_flight_reset"),
		)
	}

	if e.monitor != nil {
		e.unsubscribe = e.monitor.Subscribe(func(online bool) {
			if online {
				e.Trigger()
			}
		})
		if e.monitor.IsOnline() {
			e.Trigger()
		}
	}
	return nil
}

// Stop cancels any active drain pass and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.cancel = nil
	if e.resumeTimer != nil {
		e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cancel()
	e.wg.Wait()
}

// Trigger requests a drain pass. Triggers while a pass is active coalesce
// into a single follow-up pass; callers never observe an error here, they
// watch SyncState instead.
func (e *Engine) Trigger() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	if e.syncing {
		e.rerun = true
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.rerun = false
	ctx := e.runCtx
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.drainLoop(ctx)
	}()
}

// RetryFailed moves failed mutations back to pending with a fresh retry
// budget and starts a drain pass. With no ids every failed mutation is
// retried.
func (e *Engine) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	moved, err := e.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		e.Trigger()
	}
	return moved, nil
}

// DiscardFailed permanently removes a single failed mutation. Returns
// queue.ErrNotFound when the id does not reference a failed mutation.
func (e *Engine) DiscardFailed(ctx context.Context, id int64) error {
	item, err := e.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != queue.StatusFailed {
		return queue.ErrNotFound
	}
	removed, err := e.store.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return queue.ErrNotFound
	}
	e.publish(ctx)
	return nil
}

// Subscribe registers a SyncState callback and returns an unsubscribe
// function. The current snapshot is not replayed; call Snapshot for that.
func (e *Engine) Subscribe(fn func(SyncState)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Snapshot derives the current SyncState from the queue and engine flags.
func (e *Engine) Snapshot(ctx context.Context) (SyncState, error) {
	health, err := e.store.Health(ctx)
	if err != nil {
		return SyncState{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	state := SyncState{
		Status:       StatusIdle,
		PendingCount: health.Pending + health.InFlight,
		FailedCount:  health.Failed,
		CurrentItem:  e.currentItem,
		LastSyncAt:   e.lastSyncAt,
	}
	if e.syncing {
		state.Status = StatusSyncing
	}
	return state, nil
}

func (e *Engine) drainLoop(ctx context.Context) {
	for {
		e.drainPass(ctx)

		e.mu.Lock()
		if e.rerun && ctx.Err() == nil {
			e.rerun = false
			e.mu.Unlock()
			continue
		}
		e.syncing = false
		e.currentItem = ""
		e.mu.Unlock()
		e.publish(ctx)
		return
	}
}

// drainPass replays pending mutations oldest-first until the queue is empty,
// the pass halts on a retryable failure, or the context is canceled.
func (e *Engine) drainPass(ctx context.Context) {
	e.publish(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		if e.monitor != nil && !e.monitor.IsOnline() {
			// No point replaying against a dead network; the online
			// transition re-triggers the pass.
			return
		}

		item, err := e.store.NextPending(ctx)
		if err != nil {
			e.logger.Error("failed to fetch next mutation",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			return
		}
		if item == nil {
			e.mu.Lock()
			e.lastSyncAt = time.Now().UTC()
			e.mu.Unlock()
			return
		}

		if err := e.store.MarkInFlight(ctx, item.ID); err != nil {
			e.logger.Error("failed to mark mutation in flight",
				logging.Int64(logging.FieldMutationID, item.ID),
				logging.Error(err),
			)
			return
		}

		e.mu.Lock()
		e.currentItem = item.Label()
		e.mu.Unlock()
		e.publish(ctx)

		if !e.replayItem(ctx, item) {
			return
		}

		e.mu.Lock()
		e.currentItem = ""
		e.mu.Unlock()
	}
}

// replayItem executes one mutation and applies the outcome to the store.
// It returns false when the pass must halt (retryable failure below the
// attempt ceiling, or storage trouble).
func (e *Engine) replayItem(ctx context.Context, item *queue.Mutation) bool {
	callCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	err := e.client.Replay(callCtx, item.Method, item.URL, item.Body)
	cancel()

	if err == nil {
		if e.monitor != nil {
			e.monitor.ReportSuccess()
		}
		if err := e.store.MarkSucceeded(ctx, item.ID); err != nil {
			e.logger.Error("failed to remove replayed mutation",
				logging.Int64(logging.FieldMutationID, item.ID),
				logging.Error(err),
			)
			return false
		}
		e.logger.Info("mutation replayed",
			logging.Int64(logging.FieldMutationID, item.ID),
			logging.String("label", item.Label()),
		)
		return true
	}

	if ctx.Err() != nil {
		// Shutdown mid-replay: leave the item in_flight, startup recovery
		// returns it to pending.
		return false
	}

	if !remote.IsRetryable(err) {
		return e.parkFailed(ctx, item, err)
	}

	var replayErr *remote.ReplayError
	if !errors.As(err, &replayErr) && e.monitor != nil {
		// Transport-class failure: the network is down, not the mutation.
		// Hand the attempt back and wait for the online transition instead
		// of burning the retry budget against a dead link.
		e.monitor.ReportFailure()
		if requeueErr := e.store.Requeue(ctx, item.ID); requeueErr != nil {
			e.logger.Error("failed to requeue mutation after transport failure",
				logging.Int64(logging.FieldMutationID, item.ID),
				logging.Error(requeueErr),
			)
		}
		e.logger.Info("replay halted, network unreachable",
			logging.Int64(logging.FieldMutationID, item.ID),
			logging.Error(err),
		)
		return false
	}

	attempts := item.RetryCount + 1
	if attempts >= e.maxAttempts {
		e.logger.Warn("mutation exhausted retries",
			logging.Int64(logging.FieldMutationID, item.ID),
			logging.Int("attempts", attempts),
			logging.Error(err),
		)
		return e.parkFailed(ctx, item, err)
	}

	if markErr := e.store.MarkRetry(ctx, item.ID); markErr != nil {
		e.logger.Error("failed to requeue mutation",
			logging.Int64(logging.FieldMutationID, item.ID),
			logging.Error(markErr),
		)
		return false
	}

	delay := e.resumeDelay(attempts)
	e.logger.Info("replay failed, will retry",
		logging.Int64(logging.FieldMutationID, item.ID),
		logging.Int("attempt", attempts),
		logging.Duration("resume_in", delay),
		logging.Error(err),
	)
	e.scheduleResume(delay)
	return false
}

// parkFailed marks the item failed and lets the pass continue so one stuck
// mutation cannot block the rest of the queue. Returns true to keep draining.
func (e *Engine) parkFailed(ctx context.Context, item *queue.Mutation, cause error) bool {
	message := remote.FailureMessage(cause)
	if err := e.store.MarkFailed(ctx, item.ID, message); err != nil {
		e.logger.Error("failed to park mutation",
			logging.Int64(logging.FieldMutationID, item.ID),
			logging.Error(err),
		)
		return false
	}
	e.logger.Warn("mutation parked as failed",
		logging.Int64(logging.FieldMutationID, item.ID),
		logging.String("label", item.Label()),
		logging.String("reason", message),
	)
	e.publish(ctx)
	return true
}

// resumeDelay computes the exponential backoff for the given attempt count,
// capped at the configured maximum.
func (e *Engine) resumeDelay(attempts int) time.Duration {
	if e.baseBackoff <= 0 {
		return time.Millisecond
	}
	backoff := retry.WithCappedDuration(e.maxBackoff, retry.NewExponential(e.baseBackoff))
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		next, stop := backoff.Next()
		if stop {
			break
		}
		delay = next
	}
	if delay <= 0 {
		delay = e.baseBackoff
	}
	return delay
}

func (e *Engine) scheduleResume(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	if e.resumeTimer != nil {
		e.resumeTimer.Stop()
	}
	e.resumeTimer = time.AfterFunc(delay, e.Trigger)
}

func (e *Engine) publish(ctx context.Context) {
	state, err := e.Snapshot(ctx)
	if err != nil {
		return
	}

	e.mu.Lock()
	subs := make([]func(SyncState), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
