// Package retention reports the device cursor to the backend and garbage
// collects local tombstones every device has already seen.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/transport"
)

// Config holds retention settings.
type Config struct {
	Interval time.Duration
	Window   time.Duration
}

// DefaultConfig returns the default retention settings.
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Window:   30 * 24 * time.Hour,
	}
}

// Report is the outcome of one retention cycle.
type Report struct {
	Cursor        int64
	MinCursor     int64
	PurgedThrough int64
	Collected     int
}

// Manager runs retention for one scope.
type Manager struct {
	store     storage.Store
	transport transport.SyncTransport
	events    *events.Emitter
	logger    *slog.Logger
	now       func() time.Time
	deviceID  string
	scope     string
	cfg       Config
}

// New creates a retention manager.
func New(store storage.Store, tr transport.SyncTransport, deviceID string, cfg Config, em *events.Emitter, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}

	return &Manager{
		store:     store,
		transport: tr,
		events:    em,
		logger:    logger,
		now:       time.Now,
		deviceID:  deviceID,
		scope:     store.Scope(),
		cfg:       cfg,
	}
}

// Run executes a cycle immediately and then every Interval. Failed cycles
// are logged and retried on the next tick.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Warn("Retention cycle failed", "scope", m.scope, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reports the cursor and collects tombstones below the returned
// minimum cursor.
func (m *Manager) RunOnce(ctx context.Context) (*Report, error) {
	cursor, err := m.store.Cursor(ctx, m.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}

	info, err := m.transport.ReportCursor(ctx, m.scope, m.deviceID, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to report cursor: %w", err)
	}
	m.events.Emit(events.Event{Type: events.RetentionReported, Cursor: info.MinCursor})

	collected, err := m.CollectTombstones(ctx, info.MinCursor)
	if err != nil {
		return nil, err
	}

	return &Report{
		Cursor:        cursor,
		MinCursor:     info.MinCursor,
		PurgedThrough: info.PurgedThrough,
		Collected:     collected,
	}, nil
}

// CollectTombstones removes tombstones that every active device has
// applied (server version at or below minCursor) and that are older than
// the window. Tombstones of local deletes not yet echoed back carry no
// server version and are kept.
func (m *Manager) CollectTombstones(ctx context.Context, minCursor int64) (int, error) {
	if minCursor <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.cfg.Window)

	collected := 0
	err := m.store.Update(ctx, func(tx storage.Tx) error {
		tombs, err := tx.ListTombstones()
		if err != nil {
			return err
		}
		for _, t := range tombs {
			if t.ServerVersion <= 0 || t.ServerVersion > minCursor || !t.DeletedAt.Before(cutoff) {
				continue
			}
			if err := tx.RemoveTombstone(t.Table, t.PrimaryKey); err != nil {
				return err
			}
			collected++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to collect tombstones: %w", err)
	}

	if collected > 0 {
		m.events.Emit(events.Event{Type: events.TombstonesCollected, Count: collected, Cursor: minCursor})
		m.logger.Info("Tombstones collected", "scope", m.scope, "count", collected, "min_cursor", minCursor)
	}
	return collected, nil
}

// NeedsRescan reports whether the last successful sync is older than the
// retention window, so history this device missed may already be purged.
func (m *Manager) NeedsRescan(ctx context.Context) (bool, error) {
	var last time.Time
	if err := m.store.View(ctx, func(tx storage.Tx) error {
		last = storage.LastSyncedAt(tx)
		return nil
	}); err != nil {
		return false, fmt.Errorf("failed to read last sync time: %w", err)
	}

	if last.IsZero() {
		return false, nil
	}
	return m.now().Sub(last) > m.cfg.Window, nil
}
