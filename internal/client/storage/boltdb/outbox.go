package boltdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// EnqueueOperation appends an operation to the outbox and assigns its Seq
func (t *tx) EnqueueOperation(op *models.PendingOperation) error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}

	b, err := t.bucket(bucketOutbox)
	if err != nil {
		return err
	}

	seq, err := b.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate outbox sequence: %w", err)
	}
	op.Seq = seq
	if op.Status == "" {
		op.Status = models.StatusPending
	}

	return putOperation(b.Put, op)
}

// UpdateOperation overwrites an existing operation
func (t *tx) UpdateOperation(op *models.PendingOperation) error {
	b, err := t.bucket(bucketOutbox)
	if err != nil {
		return err
	}
	if b.Get(seqKey(op.Seq)) == nil {
		return storage.ErrOperationNotFound
	}
	return putOperation(b.Put, op)
}

// RemoveOperation deletes an operation by its sequence number
func (t *tx) RemoveOperation(seq uint64) error {
	b, err := t.bucket(bucketOutbox)
	if err != nil {
		return err
	}
	return b.Delete(seqKey(seq))
}

// ListOperations returns all operations in creation order
func (t *tx) ListOperations() ([]*models.PendingOperation, error) {
	b, err := t.bucket(bucketOutbox)
	if err != nil {
		return nil, err
	}

	var ops []*models.PendingOperation
	err = b.ForEach(func(k, v []byte) error {
		var op models.PendingOperation
		if err := json.Unmarshal(v, &op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}
		ops = append(ops, &op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func putOperation(put func(k, v []byte) error, op *models.PendingOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation: %w", err)
	}
	if err := put(seqKey(op.Seq), data); err != nil {
		return fmt.Errorf("failed to save operation: %w", err)
	}
	return nil
}

// seqKey кодирует порядковый номер в big-endian, чтобы ForEach шел в порядке создания
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
