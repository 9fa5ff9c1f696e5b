package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
)

func TestCursor_Monotonic(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	cursor, err := store.Cursor(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor, "cursor is 0 before the first sync")

	for _, v := range []int64{5, 3, 10, 10, 7} {
		err := store.Update(ctx, func(tx storage.Tx) error {
			return tx.AdvanceCursor(v)
		})
		require.NoError(t, err)
	}

	cursor, err = store.Cursor(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), cursor)

	require.NoError(t, store.ResetCursor(ctx, "scope-1"))
	cursor, err = store.Cursor(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)
}

func TestCursor_PerScope(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.AdvanceCursor(42)
	})
	require.NoError(t, err)

	other, err := store.Cursor(ctx, "scope-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)

	own, err := store.Cursor(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), own)
}

func TestCursor_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/reopen.db"
	ctx := context.Background()

	store, err := New(ctx, path, "s")
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error { return tx.AdvanceCursor(17) }))
	require.NoError(t, store.Close())

	store, err = New(ctx, path, "s")
	require.NoError(t, err)
	defer store.Close()

	cursor, err := store.Cursor(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(17), cursor)
}

func TestMeta(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	id1, err := storage.LoadDeviceID(ctx, store)
	require.NoError(t, err)
	id2, err := storage.LoadDeviceID(ctx, store)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)
	assert.Equal(t, id1, id2, "device id is generated once")

	at := time.UnixMilli(1_700_000_000_000)
	err = store.Update(ctx, func(tx storage.Tx) error {
		assert.True(t, storage.LastSyncedAt(tx).IsZero())
		assert.False(t, storage.RescanPending(tx))

		require.NoError(t, tx.SetMeta(storage.MetaRescanPending, []byte{1}))
		return storage.SetLastSyncedAt(tx, at)
	})
	require.NoError(t, err)

	err = store.Update(ctx, func(tx storage.Tx) error {
		assert.True(t, storage.LastSyncedAt(tx).Equal(at))
		assert.True(t, storage.RescanPending(tx))
		return tx.DeleteMeta(storage.MetaRescanPending)
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx storage.Tx) error {
		assert.False(t, storage.RescanPending(tx))
		return nil
	})
	require.NoError(t, err)
}

func TestEnsureDeviceID(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	id, err := storage.EnsureDeviceID(ctx, store, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", id)

	id, err = storage.EnsureDeviceID(ctx, store, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", id)

	loaded, err := storage.LoadDeviceID(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "laptop", loaded)

	_, err = storage.EnsureDeviceID(ctx, store, "phone")
	require.ErrorIs(t, err, storage.ErrDeviceMismatch)

	// пустое значение использует сохраненный id
	id, err = storage.EnsureDeviceID(ctx, store, "")
	require.NoError(t, err)
	assert.Equal(t, "laptop", id)
}
