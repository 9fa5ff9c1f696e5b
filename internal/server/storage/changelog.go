package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// AppendResult is the outcome of appending one change
type AppendResult struct {
	OpID          string
	ServerVersion int64
	Duplicate     bool // op_id уже был принят ранее, возвращена исходная версия
}

// ChangeLog defines the per-scope append-only change log
type ChangeLog interface {
	// Append assigns strictly increasing server versions to changes in
	// order. A change whose op id was already applied in the scope is not
	// appended again; its original version is returned with Duplicate set.
	Append(ctx context.Context, scope string, changes []models.SyncChange, at time.Time) ([]AppendResult, error)

	// Changes returns up to limit changes with server version above cursor,
	// filtered by tables (empty means all). Returns ErrCursorExpired when
	// cursor lies inside purged history.
	Changes(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error)

	// Head returns the latest server version of the scope, 0 for an empty scope
	Head(ctx context.Context, scope string) (int64, error)
}

// CursorRegistry tracks how far each device has applied the log
type CursorRegistry interface {
	// ReportCursor records the cursor of a device
	ReportCursor(ctx context.Context, scope, deviceID string, cursor int64, at time.Time) error

	// MinCursor returns the smallest cursor among devices that reported at
	// or after since. ok is false when no device qualifies.
	MinCursor(ctx context.Context, scope string, since time.Time) (cursor int64, ok bool, err error)
}

// Retention defines change log garbage collection
type Retention interface {
	// Purge removes superseded entries and delete entries with server
	// version at or below through that were appended before olderThan.
	// Returns the number of removed entries.
	Purge(ctx context.Context, scope string, through int64, olderThan time.Time) (int, error)

	// PurgedThrough returns the highest server version ever purged
	PurgedThrough(ctx context.Context, scope string) (int64, error)

	// Scopes lists every scope that has a change log
	Scopes(ctx context.Context) ([]string, error)
}

// Store combines everything the sync service needs from persistence
type Store interface {
	ChangeLog
	CursorRegistry
	Retention
	Ping(ctx context.Context) error
	Close() error
}
