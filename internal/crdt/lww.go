package crdt

import (
	"github.com/iudanet/gophsync/internal/models"
)

// Action is the outcome of resolving one incoming change against local state.
type Action int

const (
	// ActionSkip локальное состояние побеждает, ничего не меняем
	ActionSkip Action = iota
	// ActionPut записать входящую версию как живую запись
	ActionPut
	// ActionDelete удалить живую запись и оставить tombstone
	ActionDelete
)

// String returns a short name used in logs.
func (a Action) String() string {
	switch a {
	case ActionPut:
		return "put"
	case ActionDelete:
		return "delete"
	default:
		return "skip"
	}
}

// Decision describes what to do with an incoming change.
type Decision struct {
	Action Action
	// Conflict is set when two different writes carried the same clock and
	// the winner was picked by HLC.
	Conflict bool
}

// Resolve применяет правила LWW (Last-Write-Wins) к входящему изменению.
// local - живая запись (или nil), tomb - tombstone (или nil); одновременно
// они не существуют. Правила:
//  1. delete применяется, если его clock >= clock живой записи;
//     при равных clock удаление всегда побеждает
//  2. tombstone с clock >= входящего блокирует put
//  3. put против живой записи: больший clock выигрывает, при равных
//     сравнивается HLC (лексикографически), это конфликт
//
// Итог не зависит от порядка прихода изменений.
func Resolve(local *models.Record, tomb *models.Tombstone, in *models.SyncChange) Decision {
	if in.Kind == models.OpDelete {
		return resolveDelete(local, tomb, in)
	}

	if tomb != nil && tomb.Dominates(in.Stamp.Clock) {
		return Decision{Action: ActionSkip}
	}
	if local == nil {
		return Decision{Action: ActionPut}
	}

	switch {
	case in.Stamp.Clock > local.Clock:
		return Decision{Action: ActionPut}
	case in.Stamp.Clock < local.Clock:
		return Decision{Action: ActionSkip}
	}

	// Clock равны
	cmp := CompareHLC(in.Stamp.HLC, local.HLC)
	if cmp == 0 {
		// та же самая запись пришла повторно
		return Decision{Action: ActionSkip}
	}
	if cmp > 0 {
		return Decision{Action: ActionPut, Conflict: true}
	}
	return Decision{Action: ActionSkip, Conflict: true}
}

func resolveDelete(local *models.Record, tomb *models.Tombstone, in *models.SyncChange) Decision {
	if local != nil {
		if in.Stamp.Clock >= local.Clock {
			return Decision{Action: ActionDelete}
		}
		return Decision{Action: ActionSkip}
	}

	if tomb == nil {
		// записи еще нет - tombstone защитит от более старого put
		return Decision{Action: ActionDelete}
	}

	// повторное удаление: оставляем tombstone с наибольшим (clock, hlc);
	// равный HLC обновляет serverVersion у собственного удаления
	if in.Stamp.Clock > tomb.Clock ||
		(in.Stamp.Clock == tomb.Clock && CompareHLC(in.Stamp.HLC, tomb.HLC) >= 0) {
		return Decision{Action: ActionDelete}
	}
	return Decision{Action: ActionSkip}
}
