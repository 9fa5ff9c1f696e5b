// Package engine wires the sync components of one scope together and owns
// their lifecycle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iudanet/gophsync/internal/client/capture"
	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/outbox"
	"github.com/iudanet/gophsync/internal/client/resolver"
	"github.com/iudanet/gophsync/internal/client/retention"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/subscription"
	"github.com/iudanet/gophsync/internal/client/transport"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

var (
	// ErrAlreadyRunning is returned by Start on a running engine
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrDisposed is returned by every call after Dispose
	ErrDisposed = errors.New("engine disposed")
)

// Config holds the settings of one engine.
type Config struct {
	// Now подменяет системные часы HLC (тесты)
	Now          crdt.WallClock
	DeviceID     string // пусто - генерируется и сохраняется в store
	Tables       []string
	Outbox       outbox.Config
	Subscription subscription.Config
	Retention    retention.Config
}

// Status is a snapshot of the engine state.
type Status struct {
	LastSyncedAt time.Time
	Scope        string
	DeviceID     string
	State        subscription.State
	HLC          string
	Cursor       int64
	Queue        outbox.Stats
	Tombstones   int
	Running      bool
}

// Engine runs capture, outbox, subscription and retention for one scope.
type Engine struct {
	store        storage.Store
	clock        *crdt.HLC
	capture      *capture.Capture
	outbox       *outbox.Outbox
	resolver     *resolver.Resolver
	subscription *subscription.Manager
	retention    *retention.Manager
	events       *events.Emitter
	logger       *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
	runErr       error
	scope        string
	deviceID     string
	mu           sync.Mutex
	disposed     bool
}

// New builds an engine over store. The engine owns the store from now on
// and closes it on Dispose.
func New(ctx context.Context, store storage.Store, tr transport.SyncTransport, cfg Config, sink events.Sink, logger *slog.Logger) (*Engine, error) {
	scope := store.Scope()

	deviceID, err := storage.EnsureDeviceID(ctx, store, cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	clock := crdt.NewHLC(deviceID, now)
	if err := restoreClock(ctx, store, clock); err != nil {
		return nil, err
	}

	logger = logger.With("scope", scope)
	em := events.NewEmitter(scope, sink)

	e := &Engine{
		store:    store,
		clock:    clock,
		events:   em,
		logger:   logger,
		scope:    scope,
		deviceID: deviceID,
	}

	e.capture = capture.New(store, clock, cfg.Tables, em, logger)
	e.outbox = outbox.New(store, tr, cfg.Outbox, em, logger)
	e.capture.SetNotifier(e.outbox)
	e.resolver = resolver.New(store, clock, em, logger)
	e.retention = retention.New(store, tr, deviceID, cfg.Retention, em, logger)

	subCfg := cfg.Subscription
	subCfg.Tables = e.capture.Tables()
	subCfg.NeedsRescan = e.retention.NeedsRescan
	e.subscription = subscription.New(store, tr, e.resolver, subCfg, em, logger)

	return e, nil
}

// restoreClock продолжает HLC с последней сохраненной отметки
func restoreClock(ctx context.Context, store storage.Store, clock *crdt.HLC) error {
	var last string
	if err := store.View(ctx, func(tx storage.Tx) error {
		last = string(tx.GetMeta(storage.MetaHLC))
		return nil
	}); err != nil {
		return fmt.Errorf("failed to read clock state: %w", err)
	}
	if last == "" {
		return nil
	}
	if err := clock.Restore(last); err != nil {
		return fmt.Errorf("failed to restore clock: %w", err)
	}
	return nil
}

// Scope returns the scope of the engine.
func (e *Engine) Scope() string { return e.scope }

// DeviceID returns the id stamped on local writes.
func (e *Engine) DeviceID() string { return e.deviceID }

// Start launches the outbox, subscription and retention loops. They run
// until Stop or until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return ErrDisposed
	}
	if e.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.runErr = nil

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(e.loop(gctx, "outbox", e.outbox.Run))
	g.Go(e.loop(gctx, "subscription", e.subscription.Run))
	g.Go(e.loop(gctx, "retention", e.retention.Run))

	go func() {
		err := g.Wait()
		e.mu.Lock()
		e.runErr = err
		e.mu.Unlock()
		close(done)
	}()

	e.logger.Info("Engine started", "device_id", e.deviceID)
	return nil
}

// loop оборачивает цикл компонента: его ошибка логируется и не
// останавливает остальные циклы
func (e *Engine) loop(ctx context.Context, name string, run func(context.Context) error) func() error {
	return func() error {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("Sync loop stopped", "loop", name, "error", err)
		}
		return nil
	}
}

// Stop cancels the loops and waits for them. Operations abandoned mid-push
// stay syncing and are recovered on the next Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = nil
	e.done = nil
	e.logger.Info("Engine stopped")
	return e.runErr
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Dispose stops the engine and closes its store. The engine cannot be
// used afterwards.
func (e *Engine) Dispose() error {
	stopErr := e.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return stopErr
	}
	e.disposed = true
	if err := e.store.Close(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("failed to close store: %w", err))
	}
	return stopErr
}

func (e *Engine) check() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	return nil
}

// Put creates or replaces a record.
func (e *Engine) Put(ctx context.Context, table, pk string, payload json.RawMessage) (*models.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.capture.Put(ctx, table, pk, payload)
}

// Patch merges fields into an existing or new record.
func (e *Engine) Patch(ctx context.Context, table, pk string, patch json.RawMessage) (*models.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.capture.Patch(ctx, table, pk, patch)
}

// Delete removes a record, leaving a tombstone.
func (e *Engine) Delete(ctx context.Context, table, pk string) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.capture.Delete(ctx, table, pk)
}

// Get returns a live record or storage.ErrRecordNotFound.
func (e *Engine) Get(ctx context.Context, table, pk string) (*models.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var rec *models.Record
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.GetRecord(table, pk)
		return err
	})
	return rec, err
}

// List returns the live records of table.
func (e *Engine) List(ctx context.Context, table string) ([]*models.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var recs []*models.Record
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		recs, err = tx.ListRecords(table)
		return err
	})
	return recs, err
}

// Flush pushes due operations now.
func (e *Engine) Flush(ctx context.Context) (*outbox.FlushResult, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.outbox.Flush(ctx)
}

// Sync pushes pending operations, pulls to the backend head and reports the
// cursor. It does not subscribe; use it when the loops are not running.
func (e *Engine) Sync(ctx context.Context) (*subscription.Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}

	if err := e.outbox.Recover(ctx); err != nil {
		return nil, err
	}
	if _, err := e.outbox.Flush(ctx); err != nil && !errors.Is(err, outbox.ErrFlushInProgress) {
		return nil, fmt.Errorf("push failed: %w", err)
	}

	res, err := e.subscription.SyncOnce(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	if _, err := e.retention.RunOnce(ctx); err != nil {
		e.logger.Warn("Cursor report failed", "error", err)
	}
	return res, nil
}

// Rescan drops synced state and re-pulls the scope.
func (e *Engine) Rescan(ctx context.Context) (*subscription.Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.subscription.Rescan(ctx)
}

// RetryFailed moves permanently failed operations back to pending.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	n, err := e.outbox.RetryFailed(ctx)
	if err == nil && n > 0 {
		e.outbox.Notify()
	}
	return n, err
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	if err := e.check(); err != nil {
		return nil, err
	}

	st := &Status{
		Scope:    e.scope,
		DeviceID: e.deviceID,
		State:    e.subscription.State(),
		HLC:      e.clock.Last(),
		Running:  e.Running(),
	}

	queue, err := e.outbox.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Queue = queue

	err = e.store.View(ctx, func(tx storage.Tx) error {
		cursor, err := tx.Cursor()
		if err != nil {
			return err
		}
		tombs, err := tx.ListTombstones()
		if err != nil {
			return err
		}
		st.Cursor = cursor.ServerVersionCursor
		st.Tombstones = len(tombs)
		st.LastSyncedAt = storage.LastSyncedAt(tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read engine state: %w", err)
	}
	return st, nil
}
