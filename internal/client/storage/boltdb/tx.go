package boltdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// tx adapts *bbolt.Tx to storage.Tx
type tx struct {
	ctx   context.Context
	btx   *bbolt.Tx
	now   func() time.Time
	scope string
	hooks []storage.WriteHook
}

var _ storage.Tx = (*tx)(nil)

// Put replaces the whole record
func (t *tx) Put(table, pk string, payload json.RawMessage) (*models.Record, error) {
	if err := storage.ValidatePayload(payload); err != nil {
		return nil, err
	}
	return t.write(table, pk, models.OpPut, payload)
}

// Patch merges patch into the current record; a missing record is created
func (t *tx) Patch(table, pk string, patch json.RawMessage) (*models.Record, error) {
	var base json.RawMessage
	current, err := t.GetRecord(table, pk)
	switch {
	case err == nil:
		base = current.Payload
	case !errors.Is(err, storage.ErrRecordNotFound):
		return nil, err
	}

	merged, err := storage.MergePatch(base, patch)
	if err != nil {
		return nil, err
	}
	return t.write(table, pk, models.OpPut, merged)
}

// Delete removes a live record and leaves a tombstone
func (t *tx) Delete(table, pk string) error {
	if _, err := t.GetRecord(table, pk); err != nil {
		return err
	}
	_, err := t.write(table, pk, models.OpDelete, nil)
	return err
}

// write выполняет прикладную запись: вызывает hooks и сохраняет результат
// с выданным ими штампом
func (t *tx) write(table, pk string, kind models.OpKind, payload json.RawMessage) (*models.Record, error) {
	if table == "" || pk == "" {
		return nil, storage.ErrInvalidKey
	}

	before, err := t.GetRecord(table, pk)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, err
	}
	tombs, err := t.GetTombstones(table, []string{pk})
	if err != nil {
		return nil, err
	}

	m := &storage.Mutation{
		Before:     before,
		Tombstone:  tombs[pk],
		Table:      table,
		PrimaryKey: pk,
		Kind:       kind,
		Payload:    payload,
	}

	stamp := &models.ChangeStamp{Clock: m.NextClock()}
	for _, hook := range t.hooks {
		s, err := hook(t.ctx, t, m)
		if err != nil {
			return nil, err
		}
		if s != nil {
			stamp = s
		}
	}

	now := t.now().UTC()
	if kind == models.OpDelete {
		if err := t.RemoveRecord(table, pk); err != nil {
			return nil, err
		}
		return nil, t.PutTombstone(&models.Tombstone{
			DeletedAt:  now,
			Scope:      t.scope,
			Table:      table,
			PrimaryKey: pk,
			HLC:        stamp.HLC,
			DeviceID:   stamp.DeviceID,
			Clock:      stamp.Clock,
		})
	}

	rec := &models.Record{
		UpdatedAt:  now,
		Table:      table,
		PrimaryKey: pk,
		HLC:        stamp.HLC,
		DeviceID:   stamp.DeviceID,
		Payload:    payload,
		Clock:      stamp.Clock,
	}
	if err := t.PutRecord(rec); err != nil {
		return nil, err
	}
	// новая версия старше tombstone - он больше не нужен
	if m.Tombstone != nil {
		if err := t.RemoveTombstone(table, pk); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// OnCommit registers fn to run after commit
func (t *tx) OnCommit(fn func()) {
	t.btx.OnCommit(fn)
}

func (t *tx) bucket(name []byte) (*bbolt.Bucket, error) {
	b := t.btx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s not found", name)
	}
	return b, nil
}

// tableBucket returns the nested bucket of a table inside parent. When
// create is false and the table has never been written, it returns nil.
func (t *tx) tableBucket(parent []byte, table string, create bool) (*bbolt.Bucket, error) {
	root, err := t.bucket(parent)
	if err != nil {
		return nil, err
	}
	if !create {
		return root.Bucket([]byte(table)), nil
	}
	b, err := root.CreateBucketIfNotExists([]byte(table))
	if err != nil {
		return nil, fmt.Errorf("failed to create table bucket %q: %w", table, err)
	}
	return b, nil
}
