package models

import (
	"encoding/json"
	"time"
)

// OpKind тип изменения: put (создание/обновление) или delete.
type OpKind string

const (
	OpPut    OpKind = "put"
	OpDelete OpKind = "delete"
)

// OpStatus состояние операции в outbox.
type OpStatus string

const (
	// StatusPending операция ждет отправки (возможно, после backoff)
	StatusPending OpStatus = "pending"
	// StatusSyncing операция отправлена и ждет ответа сервера
	StatusSyncing OpStatus = "syncing"
	// StatusFailed расписание повторов исчерпано, автоматических повторов больше нет
	StatusFailed OpStatus = "failed"
)

// ChangeStamp carries the causal metadata of a single write.
type ChangeStamp struct {
	DeviceID string `json:"device_id"`
	OpID     string `json:"op_id"` // OpID ключ идемпотентности (UUID)
	HLC      string `json:"hlc"`
	Clock    int64  `json:"clock"`
}

// PendingOperation is a locally captured write waiting to be pushed.
type PendingOperation struct {
	CreatedAt     time.Time       `json:"created_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	ID            string          `json:"id"` // совпадает со Stamp.OpID
	Table         string          `json:"table"`
	PrimaryKey    string          `json:"primary_key"`
	Kind          OpKind          `json:"kind"`
	Status        OpStatus        `json:"status"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"` // обязателен для put
	Stamp         ChangeStamp     `json:"stamp"`
	Seq           uint64          `json:"seq"` // порядок создания внутри outbox
	Attempts      int             `json:"attempts"`
}

// Key returns the composite (table, primary key) identity.
func (op *PendingOperation) Key() Key {
	return Key{Table: op.Table, PrimaryKey: op.PrimaryKey}
}

// Due reports whether the operation may be sent at now.
func (op *PendingOperation) Due(now time.Time) bool {
	return op.Status == StatusPending && !op.NextAttemptAt.After(now)
}

// AsChange converts a pending operation into the change shape used by the
// resolver, so local writes can be replayed with the same LWW rules.
func (op *PendingOperation) AsChange() SyncChange {
	return SyncChange{
		Table:      op.Table,
		PrimaryKey: op.PrimaryKey,
		Kind:       op.Kind,
		Payload:    op.Payload,
		Stamp:      op.Stamp,
	}
}

// SyncChange is an immutable entry of the server change log.
type SyncChange struct {
	Table         string          `json:"table"`
	PrimaryKey    string          `json:"primary_key"`
	Kind          OpKind          `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Stamp         ChangeStamp     `json:"stamp"`
	ServerVersion int64           `json:"server_version"`
}

// Key returns the composite (table, primary key) identity.
func (c *SyncChange) Key() Key {
	return Key{Table: c.Table, PrimaryKey: c.PrimaryKey}
}

// CursorState is the last server version fully applied for a scope.
type CursorState struct {
	UpdatedAt           time.Time `json:"updated_at"`
	Scope               string    `json:"scope"`
	ServerVersionCursor int64     `json:"server_version_cursor"`
}

// OpResult is the backend verdict for one pushed operation.
type OpResult struct {
	OpID          string `json:"op_id"`
	Error         string `json:"error,omitempty"`
	ServerVersion int64  `json:"server_version,omitempty"`
	Accepted      bool   `json:"accepted"`
	Duplicate     bool   `json:"duplicate,omitempty"` // операция уже была применена ранее
}

// PushResult collects per-operation results of a push. ServerVersion is the
// scope head after the push.
type PushResult struct {
	Results       []OpResult `json:"results"`
	ServerVersion int64      `json:"server_version"`
}

// PullResult is one page of the change log.
type PullResult struct {
	Changes    []SyncChange `json:"changes"`
	NextCursor int64        `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

// RetentionInfo is returned when a device reports its cursor.
type RetentionInfo struct {
	MinCursor     int64 `json:"min_cursor"`     // минимальный курсор среди активных устройств
	PurgedThrough int64 `json:"purged_through"` // максимальная удаленная из журнала версия
}
