// Package capture turns local application writes into pending operations.
//
// Capture is installed as a pre-commit hook of the local store, so the
// record write and its outbox entry always commit (or roll back) together.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

// ErrCaptureFailed wraps any failure to enqueue a pending operation.
var ErrCaptureFailed = errors.New("change capture failed")

type suppressKey struct{}

// Suppress marks ctx as applying remote changes: writes made with it are
// not captured.
func Suppress(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// IsSuppressed reports whether ctx was returned by Suppress.
func IsSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}

// Notifier is poked after a captured write commits.
type Notifier interface {
	Notify()
}

// Capture stamps local writes and enqueues them for push.
type Capture struct {
	store    storage.Store
	clock    *crdt.HLC
	events   *events.Emitter
	logger   *slog.Logger
	notifier Notifier
	tables   map[string]struct{} // пустой набор - синхронизируются все таблицы
	now      func() time.Time
}

// New creates a capture for store and registers its write hook.
func New(store storage.Store, clock *crdt.HLC, tables []string, em *events.Emitter, logger *slog.Logger) *Capture {
	c := &Capture{
		store:  store,
		clock:  clock,
		events: em,
		logger: logger,
		tables: make(map[string]struct{}, len(tables)),
		now:    time.Now,
	}
	for _, t := range tables {
		c.tables[t] = struct{}{}
	}

	store.RegisterHook(c.Hook)
	return c
}

// SetNotifier sets the component poked after each captured commit.
func (c *Capture) SetNotifier(n Notifier) {
	c.notifier = n
}

// Tables returns the synced tables, nil meaning all.
func (c *Capture) Tables() []string {
	if len(c.tables) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.tables))
	for t := range c.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tracks reports whether writes to table are synced.
func (c *Capture) Tracks(table string) bool {
	if len(c.tables) == 0 {
		return true
	}
	_, ok := c.tables[table]
	return ok
}

// Put creates or replaces a record in its own transaction.
func (c *Capture) Put(ctx context.Context, table, pk string, payload json.RawMessage) (*models.Record, error) {
	var rec *models.Record
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.Put(table, pk, payload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put %s/%s: %w", table, pk, err)
	}
	return rec, nil
}

// Patch merges fields into a record in its own transaction.
func (c *Capture) Patch(ctx context.Context, table, pk string, patch json.RawMessage) (*models.Record, error) {
	var rec *models.Record
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.Patch(table, pk, patch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to patch %s/%s: %w", table, pk, err)
	}
	return rec, nil
}

// Delete removes a record in its own transaction.
func (c *Capture) Delete(ctx context.Context, table, pk string) error {
	err := c.store.Update(ctx, func(tx storage.Tx) error {
		return tx.Delete(table, pk)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, pk, err)
	}
	return nil
}

// Hook is the storage.WriteHook enqueuing a pending operation for each
// application write.
func (c *Capture) Hook(ctx context.Context, tx storage.Tx, m *storage.Mutation) (*models.ChangeStamp, error) {
	if IsSuppressed(ctx) || !c.Tracks(m.Table) {
		return nil, nil
	}

	hlc := c.clock.Generate()
	stamp := &models.ChangeStamp{
		DeviceID: c.clock.DeviceID(),
		OpID:     uuid.NewString(),
		HLC:      hlc,
		Clock:    m.NextClock(),
	}

	op := &models.PendingOperation{
		CreatedAt:  c.now().UTC(),
		ID:         stamp.OpID,
		Table:      m.Table,
		PrimaryKey: m.PrimaryKey,
		Kind:       m.Kind,
		Status:     models.StatusPending,
		Stamp:      *stamp,
	}
	if m.Kind == models.OpPut {
		op.Payload = m.Payload
	}

	if err := tx.EnqueueOperation(op); err != nil {
		return nil, c.fail(m, err)
	}
	// сохраняем верхнюю границу часов, чтобы после рестарта штампы продолжали расти
	if err := tx.SetMeta(storage.MetaHLC, []byte(hlc)); err != nil {
		return nil, c.fail(m, err)
	}

	tx.OnCommit(func() {
		c.events.Emit(events.Event{
			Type:       events.OperationCaptured,
			Table:      op.Table,
			PrimaryKey: op.PrimaryKey,
			OpID:       op.ID,
			Status:     string(op.Kind),
		})
		if c.notifier != nil {
			c.notifier.Notify()
		}
	})

	return stamp, nil
}

func (c *Capture) fail(m *storage.Mutation, err error) error {
	c.logger.Error("Failed to capture local write",
		"table", m.Table,
		"primary_key", m.PrimaryKey,
		"error", err)
	c.events.Emit(events.Event{
		Type:       events.CaptureFailed,
		Table:      m.Table,
		PrimaryKey: m.PrimaryKey,
		Err:        err,
	})
	return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
}
