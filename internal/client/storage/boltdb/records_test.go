package boltdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

func TestTx_PutPatchDelete(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		rec, err := tx.Put("notes", "n1", json.RawMessage(`{"title":"a","body":"b"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Clock)

		rec, err = tx.Patch("notes", "n1", json.RawMessage(`{"title":"c"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Clock)
		assert.JSONEq(t, `{"title":"c","body":"b"}`, string(rec.Payload))
		return nil
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx storage.Tx) error {
		return tx.Delete("notes", "n1")
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetRecord("notes", "n1")
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)

		tombs, err := tx.GetTombstones("notes", []string{"n1"})
		require.NoError(t, err)
		require.Contains(t, tombs, "n1")
		assert.Equal(t, int64(3), tombs["n1"].Clock)
		assert.Equal(t, "scope-1", tombs["n1"].Scope)
		return nil
	})
	require.NoError(t, err)

	// Повторное создание после удаления получает clock больше tombstone
	err = store.Update(ctx, func(tx storage.Tx) error {
		rec, err := tx.Put("notes", "n1", json.RawMessage(`{"title":"again"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(4), rec.Clock)

		tombs, err := tx.GetTombstones("notes", []string{"n1"})
		require.NoError(t, err)
		assert.Empty(t, tombs, "record and tombstone must not coexist")
		return nil
	})
	require.NoError(t, err)
}

func TestTx_Validation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		_, err := tx.Put("notes", "n1", json.RawMessage(`[1]`))
		assert.ErrorIs(t, err, storage.ErrInvalidPayload)

		_, err = tx.Put("", "n1", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, storage.ErrInvalidKey)

		err = tx.Delete("notes", "missing")
		assert.ErrorIs(t, err, storage.ErrRecordNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_BatchGetters(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, pk := range []string{"a", "b", "c"} {
			require.NoError(t, tx.PutRecord(&models.Record{Table: "notes", PrimaryKey: pk, Payload: json.RawMessage(`{}`), Clock: 1}))
		}
		require.NoError(t, tx.PutTombstone(&models.Tombstone{Table: "notes", PrimaryKey: "d", Clock: 2}))
		require.NoError(t, tx.PutTombstone(&models.Tombstone{Table: "tasks", PrimaryKey: "t1", Clock: 1}))
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		records, err := tx.GetRecords("notes", []string{"a", "c", "zzz"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Contains(t, records, "a")
		assert.Contains(t, records, "c")

		// неизвестная таблица - пустой результат без ошибки
		records, err = tx.GetRecords("unknown", []string{"a"})
		require.NoError(t, err)
		assert.Empty(t, records)

		all, err := tx.ListRecords("notes")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		tombs, err := tx.ListTombstones()
		require.NoError(t, err)
		assert.Len(t, tombs, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_ClearSynced(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.PutRecord(&models.Record{Table: "notes", PrimaryKey: "a", Clock: 1}))
		require.NoError(t, tx.PutTombstone(&models.Tombstone{Table: "notes", PrimaryKey: "b", Clock: 1}))
		require.NoError(t, tx.EnqueueOperation(&models.PendingOperation{ID: "op"}))
		return tx.ClearSynced(nil)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		records, err := tx.ListRecords("notes")
		require.NoError(t, err)
		assert.Empty(t, records)

		tombs, err := tx.ListTombstones()
		require.NoError(t, err)
		assert.Empty(t, tombs)

		ops, err := tx.ListOperations()
		require.NoError(t, err)
		assert.Len(t, ops, 1, "outbox survives a rescan reset")
		return nil
	})
	require.NoError(t, err)
}

func TestTx_ClearSynced_KeepsOtherTables(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.PutRecord(&models.Record{Table: "notes", PrimaryKey: "a", Clock: 1}))
		require.NoError(t, tx.PutTombstone(&models.Tombstone{Table: "notes", PrimaryKey: "b", Clock: 1}))
		require.NoError(t, tx.PutRecord(&models.Record{Table: "drafts", PrimaryKey: "x", Clock: 1}))
		require.NoError(t, tx.PutTombstone(&models.Tombstone{Table: "drafts", PrimaryKey: "y", Clock: 1}))
		return tx.ClearSynced([]string{"notes", "tags"})
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		notes, err := tx.ListRecords("notes")
		require.NoError(t, err)
		assert.Empty(t, notes)

		drafts, err := tx.ListRecords("drafts")
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "x", drafts[0].PrimaryKey)

		tombs, err := tx.ListTombstones()
		require.NoError(t, err)
		require.Len(t, tombs, 1)
		assert.Equal(t, "drafts", tombs[0].Table)
		return nil
	})
	require.NoError(t, err)
}
