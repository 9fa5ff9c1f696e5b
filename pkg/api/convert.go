package api

import (
	"github.com/iudanet/gophsync/internal/models"
)

// StampFromModel конвертирует models.ChangeStamp в API формат
func StampFromModel(s models.ChangeStamp) Stamp {
	return Stamp{DeviceID: s.DeviceID, OpID: s.OpID, HLC: s.HLC, Clock: s.Clock}
}

// ToModel конвертирует Stamp в models.ChangeStamp
func (s Stamp) ToModel() models.ChangeStamp {
	return models.ChangeStamp{DeviceID: s.DeviceID, OpID: s.OpID, HLC: s.HLC, Clock: s.Clock}
}

// OperationFromModel конвертирует pending операцию в API формат
func OperationFromModel(op models.PendingOperation) Operation {
	return Operation{
		CreatedAt:  op.CreatedAt,
		Table:      op.Table,
		PrimaryKey: op.PrimaryKey,
		Kind:       string(op.Kind),
		Payload:    op.Payload,
		Stamp:      StampFromModel(op.Stamp),
	}
}

// ToModel конвертирует Operation в models.PendingOperation
func (op Operation) ToModel() models.PendingOperation {
	return models.PendingOperation{
		CreatedAt:  op.CreatedAt,
		ID:         op.Stamp.OpID,
		Table:      op.Table,
		PrimaryKey: op.PrimaryKey,
		Kind:       models.OpKind(op.Kind),
		Payload:    op.Payload,
		Stamp:      op.Stamp.ToModel(),
	}
}

// ChangeFromModel конвертирует models.SyncChange в API формат
func ChangeFromModel(c models.SyncChange) Change {
	return Change{
		Table:         c.Table,
		PrimaryKey:    c.PrimaryKey,
		Kind:          string(c.Kind),
		Payload:       c.Payload,
		Stamp:         StampFromModel(c.Stamp),
		ServerVersion: c.ServerVersion,
	}
}

// ToModel конвертирует Change в models.SyncChange
func (c Change) ToModel() models.SyncChange {
	return models.SyncChange{
		Table:         c.Table,
		PrimaryKey:    c.PrimaryKey,
		Kind:          models.OpKind(c.Kind),
		Payload:       c.Payload,
		Stamp:         c.Stamp.ToModel(),
		ServerVersion: c.ServerVersion,
	}
}

// ChangesFromModel конвертирует срез изменений
func ChangesFromModel(changes []models.SyncChange) []Change {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		out = append(out, ChangeFromModel(c))
	}
	return out
}

// ChangesToModel конвертирует срез изменений
func ChangesToModel(changes []Change) []models.SyncChange {
	out := make([]models.SyncChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.ToModel())
	}
	return out
}

// OpResultsFromModel конвертирует результаты push
func OpResultsFromModel(results []models.OpResult) []OpResult {
	out := make([]OpResult, 0, len(results))
	for _, r := range results {
		out = append(out, OpResult(r))
	}
	return out
}

// OpResultsToModel конвертирует результаты push
func OpResultsToModel(results []OpResult) []models.OpResult {
	out := make([]models.OpResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.OpResult(r))
	}
	return out
}
