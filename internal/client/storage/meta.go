package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoadDeviceID returns the persisted device id, generating it on first use.
func LoadDeviceID(ctx context.Context, store Store) (string, error) {
	var deviceID string
	err := store.Update(ctx, func(tx Tx) error {
		if v := tx.GetMeta(MetaDeviceID); v != nil {
			deviceID = string(v)
			return nil
		}
		deviceID = uuid.NewString()
		return tx.SetMeta(MetaDeviceID, []byte(deviceID))
	})
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	return deviceID, nil
}

// EnsureDeviceID pins the device id to want. An empty want falls back to
// LoadDeviceID. A store already bound to another device id is an error:
// the outbox and tombstones of that device cannot be re-attributed.
func EnsureDeviceID(ctx context.Context, store Store, want string) (string, error) {
	if want == "" {
		return LoadDeviceID(ctx, store)
	}
	err := store.Update(ctx, func(tx Tx) error {
		if v := tx.GetMeta(MetaDeviceID); v != nil {
			if string(v) != want {
				return fmt.Errorf("%w: store belongs to %q, configured %q", ErrDeviceMismatch, v, want)
			}
			return nil
		}
		return tx.SetMeta(MetaDeviceID, []byte(want))
	})
	if err != nil {
		return "", fmt.Errorf("failed to bind device id: %w", err)
	}
	return want, nil
}

// SetLastSyncedAt records the time of the last successful pull
func SetLastSyncedAt(tx Tx, at time.Time) error {
	return tx.SetMeta(MetaLastSyncedAt, encodeInt64(at.UnixMilli()))
}

// LastSyncedAt returns the time of the last successful pull, zero if never
func LastSyncedAt(tx Tx) time.Time {
	v := tx.GetMeta(MetaLastSyncedAt)
	if len(v) != 8 {
		return time.Time{}
	}
	return time.UnixMilli(decodeInt64(v))
}

// RescanPending reports whether a full rescan was started and not finished
func RescanPending(tx Tx) bool {
	return tx.GetMeta(MetaRescanPending) != nil
}

// encodeInt64 конвертирует int64 в bytes
func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
