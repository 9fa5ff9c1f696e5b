package models

import (
	"encoding/json"
	"time"
)

// Record представляет живую (не удаленную) запись локальной базы.
// Clock и HLC описывают последнюю победившую запись по правилам LWW.
type Record struct {
	UpdatedAt  time.Time       `json:"updated_at"`  // UpdatedAt время последнего применения на этом устройстве
	Table      string          `json:"table"`       // Table имя синхронизируемой таблицы
	PrimaryKey string          `json:"primary_key"` // PrimaryKey ключ записи внутри таблицы
	HLC        string          `json:"hlc"`         // HLC штамп гибридных часов последней записи
	DeviceID   string          `json:"device_id"`   // DeviceID устройство-автор последней записи
	Payload    json.RawMessage `json:"payload"`     // Payload JSON объект с полями записи
	Clock      int64           `json:"clock"`       // Clock монотонный счетчик версии записи
}

// Tombstone marks a deleted record. It is kept until every known device has
// observed it and the retention window has elapsed.
type Tombstone struct {
	DeletedAt     time.Time `json:"deleted_at"`
	Scope         string    `json:"scope"`
	Table         string    `json:"table"`
	PrimaryKey    string    `json:"primary_key"`
	HLC           string    `json:"hlc"`
	DeviceID      string    `json:"device_id"`
	Clock         int64     `json:"clock"`
	ServerVersion int64     `json:"server_version"` // 0 пока удаление не вернулось с сервера
}

// IsNewerThan сравнивает две версии записи по правилам LWW:
// 1. Сначала сравнивается Clock (больший выигрывает)
// 2. При равных Clock сравнивается HLC (лексикографически)
// Возвращает true, если current запись новее, чем other.
func (r *Record) IsNewerThan(other *Record) bool {
	if r.Clock != other.Clock {
		return r.Clock > other.Clock
	}
	// Clock равны - сравниваем HLC для детерминизма
	return r.HLC > other.HLC
}

// Stamp returns the change stamp the record was last written with.
func (r *Record) Stamp() ChangeStamp {
	return ChangeStamp{
		DeviceID: r.DeviceID,
		HLC:      r.HLC,
		Clock:    r.Clock,
	}
}

// Clone создает глубокую копию записи
func (r *Record) Clone() *Record {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)

	clone := *r
	clone.Payload = payload
	return &clone
}

// Dominates reports whether the tombstone blocks a put with the given clock.
// A tombstone wins every put whose clock is not greater than its own.
func (t *Tombstone) Dominates(clock int64) bool {
	return t.Clock >= clock
}

// Key returns the composite (table, primary key) identity.
func (r *Record) Key() Key {
	return Key{Table: r.Table, PrimaryKey: r.PrimaryKey}
}

// Key returns the composite (table, primary key) identity.
func (t *Tombstone) Key() Key {
	return Key{Table: t.Table, PrimaryKey: t.PrimaryKey}
}

// Key identifies a record inside a scope.
type Key struct {
	Table      string
	PrimaryKey string
}

// String renders the key as "table/pk".
func (k Key) String() string {
	return k.Table + "/" + k.PrimaryKey
}
