// Package resolver applies pulled changes to the local store using
// whole-record last-write-wins with tombstones.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/client/capture"
	"github.com/iudanet/gophsync/internal/client/events"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
)

// Result summarizes one applied batch.
type Result struct {
	Applied   int // изменений, изменивших локальное состояние
	Skipped   int // локальное состояние победило
	Conflicts int // равные clock, победитель выбран по HLC
	Cursor    int64
}

// Resolver applies batches of changes atomically.
type Resolver struct {
	store  storage.Store
	clock  *crdt.HLC
	events *events.Emitter
	logger *slog.Logger
	now    func() time.Time
}

// New creates a resolver writing into store.
func New(store storage.Store, clock *crdt.HLC, em *events.Emitter, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		clock:  clock,
		events: em,
		logger: logger,
		now:    time.Now,
	}
}

// entry текущее состояние ключа внутри транзакции
type entry struct {
	record *models.Record
	tomb   *models.Tombstone
}

// Apply resolves changes in order and advances the cursor to nextCursor in
// the same transaction. If nextCursor is 0 the cursor moves to the highest
// server version of the batch.
func (r *Resolver) Apply(ctx context.Context, changes []models.SyncChange, nextCursor int64) (*Result, error) {
	if nextCursor == 0 {
		for _, c := range changes {
			if c.ServerVersion > nextCursor {
				nextCursor = c.ServerVersion
			}
		}
	}

	res, err := r.apply(ctx, changes, func(tx storage.Tx) error {
		if nextCursor > 0 {
			if err := tx.AdvanceCursor(nextCursor); err != nil {
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
		}
		return storage.SetLastSyncedAt(tx, r.now())
	})
	if err != nil {
		return nil, err
	}

	res.Cursor = nextCursor
	r.events.Emit(events.Event{
		Type:   events.PullApplied,
		Count:  len(changes),
		Cursor: nextCursor,
	})
	return res, nil
}

// Replay re-applies local pending operations oldest first, as if they were
// incoming changes. The cursor is left untouched.
func (r *Resolver) Replay(ctx context.Context, ops []*models.PendingOperation) (*Result, error) {
	changes := make([]models.SyncChange, 0, len(ops))
	for _, op := range ops {
		changes = append(changes, op.AsChange())
	}
	return r.apply(ctx, changes, nil)
}

func (r *Resolver) apply(ctx context.Context, changes []models.SyncChange, finish func(tx storage.Tx) error) (*Result, error) {
	// запись удаленных изменений не должна попадать в outbox
	ctx = capture.Suppress(ctx)
	res := &Result{}

	var conflicts []events.Event
	err := r.store.Update(ctx, func(tx storage.Tx) error {
		state, err := prefetch(tx, changes)
		if err != nil {
			return err
		}

		now := r.now().UTC()
		for i := range changes {
			c := &changes[i]
			st := state[c.Key()]

			if c.Kind == models.OpPut && len(c.Payload) == 0 {
				r.logger.Warn("Skipping put without payload",
					"table", c.Table,
					"primary_key", c.PrimaryKey,
					"server_version", c.ServerVersion)
				res.Skipped++
				continue
			}

			d := crdt.Resolve(st.record, st.tomb, c)
			if d.Conflict {
				res.Conflicts++
				// собственное эхо уже учтено при локальной записи
				if c.Stamp.DeviceID != r.clock.DeviceID() {
					conflicts = append(conflicts, conflictEvent(st.record, c, d))
				}
			}

			switch d.Action {
			case crdt.ActionPut:
				rec := &models.Record{
					UpdatedAt:  now,
					Table:      c.Table,
					PrimaryKey: c.PrimaryKey,
					HLC:        c.Stamp.HLC,
					DeviceID:   c.Stamp.DeviceID,
					Payload:    c.Payload,
					Clock:      c.Stamp.Clock,
				}
				if err := tx.PutRecord(rec); err != nil {
					return err
				}
				if st.tomb != nil {
					if err := tx.RemoveTombstone(c.Table, c.PrimaryKey); err != nil {
						return err
					}
				}
				st.record, st.tomb = rec, nil
				res.Applied++

			case crdt.ActionDelete:
				if st.record != nil {
					if err := tx.RemoveRecord(c.Table, c.PrimaryKey); err != nil {
						return err
					}
				}
				tomb := &models.Tombstone{
					DeletedAt:     now,
					Table:         c.Table,
					PrimaryKey:    c.PrimaryKey,
					HLC:           c.Stamp.HLC,
					DeviceID:      c.Stamp.DeviceID,
					Clock:         c.Stamp.Clock,
					ServerVersion: c.ServerVersion,
				}
				if st.tomb != nil && st.tomb.HLC == c.Stamp.HLC {
					// эхо собственного удаления: сохраняем исходное время
					tomb.DeletedAt = st.tomb.DeletedAt
				}
				if err := tx.PutTombstone(tomb); err != nil {
					return err
				}
				st.record, st.tomb = nil, tomb
				res.Applied++

			default:
				res.Skipped++
			}

			if c.Stamp.HLC != "" {
				if err := r.clock.Observe(c.Stamp.HLC); err != nil {
					r.logger.Warn("Ignoring malformed hlc", "hlc", c.Stamp.HLC, "error", err)
				}
			}
		}

		if finish != nil {
			return finish(tx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply batch: %w", err)
	}

	for _, e := range conflicts {
		r.events.Emit(e)
	}

	r.logger.Debug("Batch applied",
		"changes", len(changes),
		"applied", res.Applied,
		"skipped", res.Skipped,
		"conflicts", res.Conflicts)
	return res, nil
}

// prefetch загружает записи и tombstones всех ключей батча одним проходом по таблицам
func prefetch(tx storage.Tx, changes []models.SyncChange) (map[models.Key]*entry, error) {
	byTable := make(map[string][]string)
	state := make(map[models.Key]*entry, len(changes))
	for i := range changes {
		k := changes[i].Key()
		if _, ok := state[k]; ok {
			continue
		}
		state[k] = &entry{}
		byTable[k.Table] = append(byTable[k.Table], k.PrimaryKey)
	}

	for table, pks := range byTable {
		records, err := tx.GetRecords(table, pks)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch records of %s: %w", table, err)
		}
		tombs, err := tx.GetTombstones(table, pks)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tombstones of %s: %w", table, err)
		}
		for _, pk := range pks {
			st := state[models.Key{Table: table, PrimaryKey: pk}]
			st.record = records[pk]
			st.tomb = tombs[pk]
		}
	}
	return state, nil
}

func conflictEvent(local *models.Record, c *models.SyncChange, d crdt.Decision) events.Event {
	e := events.Event{
		Type:       events.ConflictDetected,
		Table:      c.Table,
		PrimaryKey: c.PrimaryKey,
		OpID:       c.Stamp.OpID,
		Cursor:     c.ServerVersion,
	}
	if d.Action == crdt.ActionPut {
		e.Status = "remote_won"
		e.Winner, e.Loser = c.Stamp.HLC, local.HLC
	} else {
		e.Status = "local_won"
		e.Winner, e.Loser = local.HLC, c.Stamp.HLC
	}
	return e
}
