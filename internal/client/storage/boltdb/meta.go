package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// Cursor returns the cursor of this store's scope
func (t *tx) Cursor() (models.CursorState, error) {
	state := models.CursorState{Scope: t.scope}

	b, err := t.bucket(bucketCursors)
	if err != nil {
		return state, err
	}

	data := b.Get([]byte(t.scope))
	if data == nil {
		// Курсора нет - синхронизации еще не было
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	return state, nil
}

// AdvanceCursor moves the cursor forward, never backwards
func (t *tx) AdvanceCursor(version int64) error {
	current, err := t.Cursor()
	if err != nil {
		return err
	}
	if version <= current.ServerVersionCursor {
		return nil
	}
	return t.saveCursor(version)
}

// ResetCursor sets the cursor back to 0
func (t *tx) ResetCursor() error {
	return t.saveCursor(0)
}

func (t *tx) saveCursor(version int64) error {
	b, err := t.bucket(bucketCursors)
	if err != nil {
		return err
	}

	data, err := json.Marshal(models.CursorState{
		UpdatedAt:           t.now().UTC(),
		Scope:               t.scope,
		ServerVersionCursor: version,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := b.Put([]byte(t.scope), data); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// GetMeta returns a copy of a metadata value or nil
func (t *tx) GetMeta(key string) []byte {
	b := t.btx.Bucket(bucketMetadata)
	if b == nil {
		return nil
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil
	}
	// значения bbolt валидны только внутри транзакции
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// SetMeta stores a metadata value
func (t *tx) SetMeta(key string, value []byte) error {
	b, err := t.bucket(bucketMetadata)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(key), value); err != nil {
		return fmt.Errorf("failed to save metadata %q: %w", key, err)
	}
	return nil
}

// DeleteMeta removes a metadata value
func (t *tx) DeleteMeta(key string) error {
	b, err := t.bucket(bucketMetadata)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// Cursor returns the persisted cursor for scope
func (s *Storage) Cursor(ctx context.Context, scope string) (int64, error) {
	var cursor int64
	err := s.View(ctx, func(tx storage.Tx) error {
		state, err := s.scoped(tx, scope).Cursor()
		cursor = state.ServerVersionCursor
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// ResetCursor sets the cursor of scope back to 0
func (s *Storage) ResetCursor(ctx context.Context, scope string) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return s.scoped(tx, scope).ResetCursor()
	})
}

// scoped returns a view of tx addressing another scope's cursor
func (s *Storage) scoped(t storage.Tx, scope string) *tx {
	inner := t.(*tx)
	if scope == "" || scope == inner.scope {
		return inner
	}
	clone := *inner
	clone.scope = scope
	return &clone
}
