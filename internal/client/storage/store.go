package storage

import (
	"context"
	"encoding/json"

	"github.com/iudanet/gophsync/internal/models"
)

// Meta keys shared by the engine components.
const (
	MetaDeviceID      = "device_id"
	MetaHLC           = "hlc_last"
	MetaLastSyncedAt  = "last_synced_at"
	MetaRescanPending = "rescan_pending"
)

// Store is the embedded local database of one scope.
type Store interface {
	CursorStore

	// Update runs fn in a read-write transaction. Any error rolls back
	// everything fn wrote, including writes made by hooks.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn in a read-only transaction
	View(ctx context.Context, fn func(tx Tx) error) error

	// RegisterHook installs a pre-commit hook invoked for every application write
	RegisterHook(hook WriteHook)

	// Scope returns the scope this store belongs to
	Scope() string

	Close() error
}

// Tx is a single local transaction.
//
// Put, Patch and Delete are application writes: they run the registered
// hooks and assign the stamp the hooks return. The remaining writers are raw
// and used by the sync machinery itself.
type Tx interface {
	Put(table, pk string, payload json.RawMessage) (*models.Record, error)
	Patch(table, pk string, patch json.RawMessage) (*models.Record, error)
	Delete(table, pk string) error

	GetRecord(table, pk string) (*models.Record, error)
	GetRecords(table string, pks []string) (map[string]*models.Record, error)
	ListRecords(table string) ([]*models.Record, error)
	GetTombstones(table string, pks []string) (map[string]*models.Tombstone, error)
	ListTombstones() ([]*models.Tombstone, error)

	PutRecord(rec *models.Record) error
	RemoveRecord(table, pk string) error
	PutTombstone(tomb *models.Tombstone) error
	RemoveTombstone(table, pk string) error
	// ClearSynced drops the records and tombstones of tables (nil means all);
	// used by a full rescan. Other tables are left intact.
	ClearSynced(tables []string) error

	EnqueueOperation(op *models.PendingOperation) error
	UpdateOperation(op *models.PendingOperation) error
	RemoveOperation(seq uint64) error
	ListOperations() ([]*models.PendingOperation, error)

	Cursor() (models.CursorState, error)
	// AdvanceCursor moves the cursor forward; smaller versions are ignored
	AdvanceCursor(version int64) error
	ResetCursor() error

	GetMeta(key string) []byte
	SetMeta(key string, value []byte) error
	DeleteMeta(key string) error

	// OnCommit registers fn to run after a successful commit
	OnCommit(fn func())
}

// Mutation describes an application write before it is stored.
type Mutation struct {
	Before     *models.Record    // текущая живая запись или nil
	Tombstone  *models.Tombstone // текущий tombstone или nil
	Table      string
	PrimaryKey string
	Kind       models.OpKind
	Payload    json.RawMessage // итоговый (после merge) payload для put
}

// NextClock returns the clock a local write to this key must carry.
func (m *Mutation) NextClock() int64 {
	return NextClock(m.Before, m.Tombstone)
}

// NextClock returns max(record clock, tombstone clock) + 1.
func NextClock(rec *models.Record, tomb *models.Tombstone) int64 {
	var clock int64
	if rec != nil && rec.Clock > clock {
		clock = rec.Clock
	}
	if tomb != nil && tomb.Clock > clock {
		clock = tomb.Clock
	}
	return clock + 1
}

// WriteHook runs inside the write transaction before the record is stored.
// A returned stamp is assigned to the written record or tombstone; a nil
// stamp leaves the default (next clock, no HLC). A returned error aborts
// the whole transaction.
type WriteHook func(ctx context.Context, tx Tx, m *Mutation) (*models.ChangeStamp, error)
