// Package subscription keeps the local store caught up with the backend:
// paginated bootstrap, full rescan, and a live subscription with bounded
// reconnection.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/resolver"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/transport"
	"github.com/iudanet/gophsync/internal/models"
)

// ErrMaxRetriesExceeded is returned by Run when reconnection gave up.
var ErrMaxRetriesExceeded = errors.New("subscription reconnect attempts exhausted")

// State is the subscription lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateBootstrapping State = "bootstrapping"
	StateSubscribed    State = "subscribed"
	StateReconnecting  State = "reconnecting"
)

// Config holds subscription tuning.
type Config struct {
	// NeedsRescan is consulted before every catch-up; nil disables the check
	NeedsRescan   func(ctx context.Context) (bool, error)
	// Tables filters pulls and bounds what a rescan clears; nil means all
	Tables        []string
	PageSize      int
	MaxReconnects uint64
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// DefaultConfig returns the default subscription settings.
func DefaultConfig() Config {
	return Config{
		PageSize:      500,
		MaxReconnects: 10,
		ReconnectBase: 500 * time.Millisecond,
		ReconnectMax:  30 * time.Second,
	}
}

// Result summarizes a catch-up.
type Result struct {
	Pages     int
	Changes   int
	Applied   int
	Conflicts int
	Cursor    int64
	Rescanned bool
}

// Manager drives the pull side of one scope.
type Manager struct {
	store     storage.Store
	transport transport.SyncTransport
	resolver  *resolver.Resolver
	events    *events.Emitter
	logger    *slog.Logger
	scope     string
	state     State
	cfg       Config
	applyMu   sync.Mutex // сериализует применение батчей: bootstrap, rescan и live
	stateMu   sync.RWMutex
}

// New creates a manager for store's scope.
func New(store storage.Store, tr transport.SyncTransport, res *resolver.Resolver, cfg Config, em *events.Emitter, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = def.ReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}

	return &Manager{
		store:     store,
		transport: tr,
		resolver:  res,
		events:    em,
		logger:    logger,
		scope:     store.Scope(),
		state:     StateDisconnected,
		cfg:       cfg,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Manager) setState(s State, cause error) {
	m.stateMu.Lock()
	if m.state == s {
		m.stateMu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	m.stateMu.Unlock()

	m.logger.Info("Subscription state changed", "scope", m.scope, "from", prev, "to", s)
	m.events.Emit(events.Event{Type: events.SubscriptionStatus, Status: string(s), Err: cause})
}

// Run catches up, subscribes and keeps the subscription alive until ctx is
// done. Each reconnect attempt re-runs the catch-up first. When MaxReconnects
// consecutive attempts fail it emits max_retries_exceeded and returns
// ErrMaxRetriesExceeded.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(StateDisconnected, nil)

	m.setState(StateBootstrapping, nil)
	for {
		sub, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m.setState(StateSubscribed, nil)

		select {
		case <-ctx.Done():
			if err := sub.Close(); err != nil {
				m.logger.Warn("Failed to close subscription", "scope", m.scope, "error", err)
			}
			return nil
		case <-sub.Done():
		}

		m.logger.Warn("Subscription dropped", "scope", m.scope, "error", sub.Err())
		m.setState(StateReconnecting, sub.Err())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.ReconnectBase):
		}
	}
}

// connect повторяет catch-up + Subscribe с экспоненциальной задержкой
func (m *Manager) connect(ctx context.Context) (transport.Subscription, error) {
	b := retry.NewExponential(m.cfg.ReconnectBase)
	b = retry.WithCappedDuration(m.cfg.ReconnectMax, b)
	b = retry.WithMaxRetries(m.cfg.MaxReconnects, b)

	var (
		sub     transport.Subscription
		lastErr error
		fatal   bool
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if _, err := m.CatchUp(ctx); err != nil {
			lastErr = err
			m.logger.Warn("Catch-up failed", "scope", m.scope, "error", err)
			m.setState(StateReconnecting, err)
			return retry.RetryableError(err)
		}

		cursor, err := m.store.Cursor(ctx, m.scope)
		if err != nil {
			fatal = true
			return err
		}

		s, err := m.transport.Subscribe(ctx, m.scope, m.cfg.Tables, cursor, m.onChanges)
		if err != nil {
			lastErr = err
			m.logger.Warn("Subscribe failed", "scope", m.scope, "error", err)
			m.setState(StateReconnecting, err)
			return retry.RetryableError(err)
		}
		sub = s
		return nil
	})
	if err == nil {
		return sub, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if !fatal && lastErr != nil {
		m.events.Emit(events.Event{Type: events.MaxRetriesExceeded, Count: int(m.cfg.MaxReconnects), Err: lastErr})
		m.logger.Error("Giving up reconnecting", "scope", m.scope, "attempts", m.cfg.MaxReconnects+1, "error", lastErr)
		return nil, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
	}
	return nil, err
}

// onChanges applies a live batch; changes already covered by the cursor are dropped.
func (m *Manager) onChanges(ctx context.Context, changes []models.SyncChange) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	cursor, err := m.store.Cursor(ctx, m.scope)
	if err != nil {
		return err
	}

	fresh := changes[:0:0]
	for _, c := range changes {
		if c.ServerVersion > cursor {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	m.events.Emit(events.Event{Type: events.PullReceived, Count: len(fresh), Cursor: cursor})
	if _, err := m.resolver.Apply(ctx, fresh, 0); err != nil {
		m.events.Emit(events.Event{Type: events.PullFailed, Count: len(fresh), Err: err})
		return err
	}
	return nil
}

// CatchUp pulls everything after the cursor. It finishes an interrupted
// rescan, rescans when the sync is stale, and falls back to a rescan when
// the backend reports the cursor expired.
func (m *Manager) CatchUp(ctx context.Context) (*Result, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	rescan, err := m.rescanRequired(ctx)
	if err != nil {
		return nil, err
	}
	if rescan {
		return m.rescan(ctx)
	}

	res, err := m.bootstrap(ctx, events.BootstrapStarted, events.BootstrapProgress, events.BootstrapCompleted)
	if errors.Is(err, transport.ErrCursorExpired) {
		m.logger.Warn("Cursor expired, starting rescan", "scope", m.scope)
		return m.rescan(ctx)
	}
	return res, err
}

// SyncOnce brings the scope to the backend head without subscribing.
func (m *Manager) SyncOnce(ctx context.Context) (*Result, error) {
	return m.CatchUp(ctx)
}

// Rescan drops synced state of the tracked tables and re-pulls the scope
// from scratch. An interrupted rescan is continued instead.
func (m *Manager) Rescan(ctx context.Context) (*Result, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()
	return m.rescan(ctx)
}

func (m *Manager) rescanRequired(ctx context.Context) (bool, error) {
	pending := false
	if err := m.store.View(ctx, func(tx storage.Tx) error {
		pending = storage.RescanPending(tx)
		return nil
	}); err != nil {
		return false, fmt.Errorf("failed to read rescan marker: %w", err)
	}
	if pending {
		return true, nil
	}

	if m.cfg.NeedsRescan == nil {
		return false, nil
	}
	stale, err := m.cfg.NeedsRescan(ctx)
	if err != nil {
		return false, err
	}
	if stale {
		m.logger.Info("Last sync is older than the retention window, rescanning", "scope", m.scope)
	}
	return stale, nil
}

func (m *Manager) bootstrap(ctx context.Context, started, progress, completed events.Type) (*Result, error) {
	cursor, err := m.store.Cursor(ctx, m.scope)
	if err != nil {
		return nil, err
	}

	res := &Result{Cursor: cursor}
	if started != "" {
		m.events.Emit(events.Event{Type: started, Cursor: cursor})
	}

	for {
		page, err := m.transport.Pull(ctx, m.scope, cursor, m.cfg.PageSize, m.cfg.Tables)
		if err != nil {
			m.events.Emit(events.Event{Type: events.PullFailed, Cursor: cursor, Err: err})
			return res, fmt.Errorf("failed to pull after %d: %w", cursor, err)
		}
		m.events.Emit(events.Event{Type: events.PullReceived, Count: len(page.Changes), Cursor: cursor})

		applied, err := m.resolver.Apply(ctx, page.Changes, page.NextCursor)
		if err != nil {
			m.events.Emit(events.Event{Type: events.PullFailed, Count: len(page.Changes), Cursor: cursor, Err: err})
			return res, err
		}

		res.Pages++
		res.Changes += len(page.Changes)
		res.Applied += applied.Applied
		res.Conflicts += applied.Conflicts
		if applied.Cursor > cursor {
			cursor = applied.Cursor
		}
		res.Cursor = cursor
		m.events.Emit(events.Event{Type: progress, Count: res.Changes, Cursor: cursor})

		if !page.HasMore {
			break
		}
		if len(page.Changes) == 0 && page.NextCursor <= cursor {
			// сервер обещает продолжение, но курсор не двигается
			return res, fmt.Errorf("backend reported more changes without advancing past %d", cursor)
		}
	}

	if completed != "" {
		m.events.Emit(events.Event{Type: completed, Count: res.Changes, Cursor: cursor})
	}
	m.logger.Info("Catch-up finished",
		"scope", m.scope,
		"pages", res.Pages,
		"changes", res.Changes,
		"cursor", cursor)
	return res, nil
}

// rescan сбрасывает синхронизированное состояние отслеживаемых таблиц и
// курсор, выкачивает scope заново и переигрывает неотправленные локальные
// операции. Маркер в meta означает, что сброс уже сделан: прерванный rescan
// продолжается с сохраненного курсора.
func (m *Manager) rescan(ctx context.Context) (*Result, error) {
	m.events.Emit(events.Event{Type: events.RescanStarted})

	resumed := false
	err := m.store.Update(ctx, func(tx storage.Tx) error {
		if storage.RescanPending(tx) {
			resumed = true
			return nil
		}
		return m.resetForRescan(tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset scope for rescan: %w", err)
	}
	if resumed {
		m.logger.Info("Resuming interrupted rescan", "scope", m.scope)
	}

	res, err := m.bootstrap(ctx, "", events.RescanProgress, "")
	if resumed && errors.Is(err, transport.ErrCursorExpired) {
		// сохраненный курсор успел устареть, начинаем с нуля
		m.logger.Warn("Resumed rescan cursor expired, starting over", "scope", m.scope)
		if err := m.store.Update(ctx, m.resetForRescan); err != nil {
			return nil, fmt.Errorf("failed to reset scope for rescan: %w", err)
		}
		res, err = m.bootstrap(ctx, "", events.RescanProgress, "")
	}
	if err != nil {
		return res, fmt.Errorf("rescan interrupted: %w", err)
	}
	res.Rescanned = true

	var ops []*models.PendingOperation
	if err := m.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ops, err = tx.ListOperations()
		return err
	}); err != nil {
		return res, fmt.Errorf("failed to list pending operations: %w", err)
	}
	if len(ops) > 0 {
		if _, err := m.resolver.Replay(ctx, ops); err != nil {
			return res, fmt.Errorf("failed to replay pending operations: %w", err)
		}
	}

	if err := m.store.Update(ctx, func(tx storage.Tx) error {
		return tx.DeleteMeta(storage.MetaRescanPending)
	}); err != nil {
		return res, fmt.Errorf("failed to clear rescan marker: %w", err)
	}

	m.events.Emit(events.Event{Type: events.RescanCompleted, Count: res.Changes, Cursor: res.Cursor})
	m.logger.Info("Rescan finished", "scope", m.scope, "changes", res.Changes, "replayed", len(ops))
	return res, nil
}

func (m *Manager) resetForRescan(tx storage.Tx) error {
	if err := tx.ClearSynced(m.cfg.Tables); err != nil {
		return err
	}
	if err := tx.ResetCursor(); err != nil {
		return err
	}
	return tx.SetMeta(storage.MetaRescanPending, []byte{1})
}
