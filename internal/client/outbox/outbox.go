// Package outbox pushes captured operations to the backend with coalescing,
// batching and per-operation retry backoff.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/transport"
	"github.com/iudanet/gophsync/internal/models"
)

// ErrFlushInProgress is returned by Flush when another flush is running.
var ErrFlushInProgress = errors.New("outbox flush already in progress")

// DefaultBackoff is the retry schedule applied after each rejection.
var DefaultBackoff = []time.Duration{250 * time.Millisecond, time.Second, 3 * time.Second, 5 * time.Second}

// Config holds outbox tuning.
type Config struct {
	Backoff       []time.Duration
	FlushInterval time.Duration
	BatchSize     int
	QueueCeiling  int
}

// DefaultConfig returns the default outbox settings.
func DefaultConfig() Config {
	return Config{
		Backoff:       DefaultBackoff,
		FlushInterval: 2 * time.Second,
		BatchSize:     100,
		QueueCeiling:  10_000,
	}
}

// Stats counts operations per status.
type Stats struct {
	Pending int
	Syncing int
	Failed  int
}

// FlushResult summarizes one Flush call.
type FlushResult struct {
	Sent       int // операций отправлено на сервер
	Acked      int // подтверждено и удалено
	Rejected   int // отклонено, запланирован повтор
	Failed     int // отклонено окончательно
	Coalesced  int // вытеснено более новой записью того же ключа
	Reverted   int // возвращено в pending из-за ошибки транспорта
	Batches    int
	LastError  error
	QueueDepth int
}

// Outbox owns the push side of synchronization.
type Outbox struct {
	store     storage.Store
	transport transport.SyncTransport
	events    *events.Emitter
	logger    *slog.Logger
	now       func() time.Time
	notify    chan struct{}
	scope     string
	cfg       Config
	flushMu   sync.Mutex
}

// New creates an outbox for store's scope.
func New(store storage.Store, tr transport.SyncTransport, cfg Config, em *events.Emitter, logger *slog.Logger) *Outbox {
	def := DefaultConfig()
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.QueueCeiling <= 0 {
		cfg.QueueCeiling = def.QueueCeiling
	}

	return &Outbox{
		store:     store,
		transport: tr,
		events:    em,
		logger:    logger,
		now:       time.Now,
		notify:    make(chan struct{}, 1),
		scope:     store.Scope(),
		cfg:       cfg,
	}
}

// Notify asks the running loop to flush soon. It never blocks.
func (o *Outbox) Notify() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Run recovers interrupted operations, flushes immediately and then on
// every tick or notification until ctx is done.
func (o *Outbox) Run(ctx context.Context) error {
	if err := o.Recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		if _, err := o.Flush(ctx); err != nil && !errors.Is(err, ErrFlushInProgress) {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn("Outbox flush failed", "scope", o.scope, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-o.notify:
		}
	}
}

// Recover moves operations left in syncing by an interrupted push back to pending.
func (o *Outbox) Recover(ctx context.Context) error {
	recovered := 0
	err := o.store.Update(ctx, func(tx storage.Tx) error {
		ops, err := tx.ListOperations()
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.Status != models.StatusSyncing {
				continue
			}
			op.Status = models.StatusPending
			if err := tx.UpdateOperation(op); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to recover in-flight operations: %w", err)
	}

	if recovered > 0 {
		o.logger.Info("Recovered in-flight operations", "scope", o.scope, "count", recovered)
	}
	return nil
}

// Flush pushes every due operation in batches. A tick that arrives while a
// flush runs is dropped with ErrFlushInProgress.
func (o *Outbox) Flush(ctx context.Context) (*FlushResult, error) {
	if !o.flushMu.TryLock() {
		return nil, ErrFlushInProgress
	}
	defer o.flushMu.Unlock()

	res := &FlushResult{}
	for {
		batch, err := o.prepare(ctx, res)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			return res, nil
		}

		res.Batches++
		if err := o.send(ctx, batch, res); err != nil {
			res.LastError = err
			return res, err
		}
	}
}

// prepare coalesces the queue and marks the next batch syncing in one transaction.
func (o *Outbox) prepare(ctx context.Context, res *FlushResult) ([]*models.PendingOperation, error) {
	now := o.now()
	var batch []*models.PendingOperation
	queueDepth := 0

	err := o.store.Update(ctx, func(tx storage.Tx) error {
		ops, err := tx.ListOperations()
		if err != nil {
			return err
		}

		live, superseded := coalesce(ops)
		for _, op := range superseded {
			if err := tx.RemoveOperation(op.Seq); err != nil {
				return err
			}
		}
		res.Coalesced += len(superseded)

		for _, op := range live {
			if op.Status == models.StatusPending {
				queueDepth++
			}
			if len(batch) >= o.cfg.BatchSize || !op.Due(now) {
				continue
			}
			op.Status = models.StatusSyncing
			if err := tx.UpdateOperation(op); err != nil {
				return err
			}
			batch = append(batch, op)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare outbox batch: %w", err)
	}

	res.QueueDepth = queueDepth
	if queueDepth > o.cfg.QueueCeiling {
		o.events.Emit(events.Event{Type: events.QueueFull, Count: queueDepth})
	}
	return batch, nil
}

// coalesce keeps only the newest operation per key among pending and
// failed ones. Operations are in creation order.
func coalesce(ops []*models.PendingOperation) (live, superseded []*models.PendingOperation) {
	newest := make(map[models.Key]uint64, len(ops))
	for _, op := range ops {
		if op.Status == models.StatusSyncing {
			continue
		}
		newest[op.Key()] = op.Seq
	}

	for _, op := range ops {
		if op.Status != models.StatusSyncing && newest[op.Key()] != op.Seq {
			superseded = append(superseded, op)
			continue
		}
		live = append(live, op)
	}
	return live, superseded
}

func (o *Outbox) send(ctx context.Context, batch []*models.PendingOperation, res *FlushResult) error {
	payload := make([]models.PendingOperation, 0, len(batch))
	for _, op := range batch {
		payload = append(payload, *op)
	}

	o.events.Emit(events.Event{Type: events.PushStarted, Count: len(batch)})
	res.Sent += len(batch)

	result, err := o.transport.Push(ctx, o.scope, payload)
	if err != nil {
		// ошибка транспорта: весь батч возвращается в pending без изменения attempts
		if rerr := o.revert(batch); rerr != nil {
			o.logger.Error("Failed to revert outbox batch", "scope", o.scope, "error", rerr)
		}
		res.Reverted += len(batch)
		o.events.Emit(events.Event{Type: events.PushCompleted, Count: len(batch), Err: err})
		return fmt.Errorf("push failed: %w", err)
	}

	byID := make(map[string]models.OpResult, len(result.Results))
	for _, r := range result.Results {
		byID[r.OpID] = r
	}

	now := o.now()
	var failedEvents []events.Event
	err = o.store.Update(ctx, func(tx storage.Tx) error {
		for _, op := range batch {
			r, ok := byID[op.ID]
			switch {
			case !ok:
				// нет результата - неизвестно, применена ли операция; повторим
				// позже, attempts не меняется
				op.Status = models.StatusPending
				op.NextAttemptAt = now.Add(o.cfg.Backoff[0])
				res.Reverted++
			case r.Accepted:
				if err := tx.RemoveOperation(op.Seq); err != nil {
					return err
				}
				res.Acked++
				continue
			default:
				op.Attempts++
				op.LastError = r.Error
				if op.Attempts > len(o.cfg.Backoff) {
					op.Status = models.StatusFailed
					res.Failed++
					failedEvents = append(failedEvents, events.Event{
						Type:       events.OperationFailed,
						Table:      op.Table,
						PrimaryKey: op.PrimaryKey,
						OpID:       op.ID,
						Count:      op.Attempts,
						Err:        fmt.Errorf("rejected: %s", r.Error),
					})
				} else {
					op.Status = models.StatusPending
					op.NextAttemptAt = now.Add(o.cfg.Backoff[op.Attempts-1])
					res.Rejected++
				}
			}
			if err := tx.UpdateOperation(op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record push results: %w", err)
	}

	for _, e := range failedEvents {
		o.events.Emit(e)
	}
	o.events.Emit(events.Event{Type: events.PushCompleted, Count: len(batch)})

	o.logger.Debug("Pushed outbox batch",
		"scope", o.scope,
		"sent", len(batch),
		"acked", res.Acked,
		"rejected", res.Rejected,
		"failed", res.Failed)
	return nil
}

// revert returns a batch to pending. Uses a fresh context so a cancelled
// flush still leaves the queue consistent.
func (o *Outbox) revert(batch []*models.PendingOperation) error {
	return o.store.Update(context.Background(), func(tx storage.Tx) error {
		for _, op := range batch {
			op.Status = models.StatusPending
			if err := tx.UpdateOperation(op); err != nil && !errors.Is(err, storage.ErrOperationNotFound) {
				return err
			}
		}
		return nil
	})
}

// Stats returns counts of queued operations per status.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := o.store.View(ctx, func(tx storage.Tx) error {
		ops, err := tx.ListOperations()
		if err != nil {
			return err
		}
		for _, op := range ops {
			switch op.Status {
			case models.StatusPending:
				st.Pending++
			case models.StatusSyncing:
				st.Syncing++
			case models.StatusFailed:
				st.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("failed to read outbox stats: %w", err)
	}
	return st, nil
}

// Pending returns operations not yet acknowledged, oldest first.
func (o *Outbox) Pending(ctx context.Context) ([]*models.PendingOperation, error) {
	var ops []*models.PendingOperation
	err := o.store.View(ctx, func(tx storage.Tx) error {
		var err error
		ops, err = tx.ListOperations()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	return ops, nil
}

// RetryFailed moves failed operations back to pending with a fresh retry
// schedule. It returns how many were revived.
func (o *Outbox) RetryFailed(ctx context.Context) (int, error) {
	revived := 0
	err := o.store.Update(ctx, func(tx storage.Tx) error {
		ops, err := tx.ListOperations()
		if err != nil {
			return err
		}
		for _, op := range ops {
			if op.Status != models.StatusFailed {
				continue
			}
			op.Status = models.StatusPending
			op.Attempts = 0
			op.NextAttemptAt = time.Time{}
			op.LastError = ""
			if err := tx.UpdateOperation(op); err != nil {
				return err
			}
			revived++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed operations: %w", err)
	}
	if revived > 0 {
		o.Notify()
	}
	return revived, nil
}
