package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// GetRecord retrieves a live record
func (t *tx) GetRecord(table, pk string) (*models.Record, error) {
	b, err := t.tableBucket(bucketRecords, table, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, storage.ErrRecordNotFound
	}

	data := b.Get([]byte(pk))
	if data == nil {
		return nil, storage.ErrRecordNotFound
	}

	// Десериализуем
	rec := &models.Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// GetRecords fetches all listed keys of a table in one pass; missing keys
// are absent from the result.
func (t *tx) GetRecords(table string, pks []string) (map[string]*models.Record, error) {
	result := make(map[string]*models.Record, len(pks))

	b, err := t.tableBucket(bucketRecords, table, false)
	if err != nil || b == nil {
		return result, err
	}

	for _, pk := range pks {
		data := b.Get([]byte(pk))
		if data == nil {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s/%s: %w", table, pk, err)
		}
		result[pk] = &rec
	}
	return result, nil
}

// ListRecords returns every live record of a table ordered by primary key
func (t *tx) ListRecords(table string) ([]*models.Record, error) {
	b, err := t.tableBucket(bucketRecords, table, false)
	if err != nil || b == nil {
		return nil, err
	}

	var records []*models.Record
	err = b.ForEach(func(k, v []byte) error {
		var rec models.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// PutRecord stores a record as is, without hooks
func (t *tx) PutRecord(rec *models.Record) error {
	if rec.Table == "" || rec.PrimaryKey == "" {
		return storage.ErrInvalidKey
	}

	// Сериализуем запись в JSON
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	b, err := t.tableBucket(bucketRecords, rec.Table, true)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(rec.PrimaryKey), data); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// RemoveRecord deletes a live record, missing records are ignored
func (t *tx) RemoveRecord(table, pk string) error {
	b, err := t.tableBucket(bucketRecords, table, false)
	if err != nil || b == nil {
		return err
	}
	return b.Delete([]byte(pk))
}

// GetTombstones fetches tombstones for the listed keys of a table
func (t *tx) GetTombstones(table string, pks []string) (map[string]*models.Tombstone, error) {
	result := make(map[string]*models.Tombstone, len(pks))

	b, err := t.tableBucket(bucketTombstones, table, false)
	if err != nil || b == nil {
		return result, err
	}

	for _, pk := range pks {
		data := b.Get([]byte(pk))
		if data == nil {
			continue
		}
		var tomb models.Tombstone
		if err := json.Unmarshal(data, &tomb); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tombstone %s/%s: %w", table, pk, err)
		}
		result[pk] = &tomb
	}
	return result, nil
}

// ListTombstones returns every tombstone of the scope
func (t *tx) ListTombstones() ([]*models.Tombstone, error) {
	root, err := t.bucket(bucketTombstones)
	if err != nil {
		return nil, err
	}

	var tombs []*models.Tombstone
	err = root.ForEachBucket(func(name []byte) error {
		return root.Bucket(name).ForEach(func(k, v []byte) error {
			var tomb models.Tombstone
			if err := json.Unmarshal(v, &tomb); err != nil {
				return fmt.Errorf("failed to unmarshal tombstone: %w", err)
			}
			tombs = append(tombs, &tomb)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tombs, nil
}

// PutTombstone stores a tombstone as is
func (t *tx) PutTombstone(tomb *models.Tombstone) error {
	if tomb.Table == "" || tomb.PrimaryKey == "" {
		return storage.ErrInvalidKey
	}
	if tomb.Scope == "" {
		tomb.Scope = t.scope
	}

	data, err := json.Marshal(tomb)
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}

	b, err := t.tableBucket(bucketTombstones, tomb.Table, true)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(tomb.PrimaryKey), data); err != nil {
		return fmt.Errorf("failed to save tombstone: %w", err)
	}
	return nil
}

// RemoveTombstone deletes a tombstone, missing ones are ignored
func (t *tx) RemoveTombstone(table, pk string) error {
	b, err := t.tableBucket(bucketTombstones, table, false)
	if err != nil || b == nil {
		return err
	}
	return b.Delete([]byte(pk))
}

// ClearSynced drops records and tombstones of the given tables; nil drops
// every table of the scope
func (t *tx) ClearSynced(tables []string) error {
	if tables == nil {
		for _, name := range [][]byte{bucketRecords, bucketTombstones} {
			if err := t.btx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return fmt.Errorf("failed to drop %s bucket: %w", name, err)
			}
			if _, err := t.btx.CreateBucket(name); err != nil {
				return fmt.Errorf("failed to recreate %s bucket: %w", name, err)
			}
		}
		return nil
	}

	for _, name := range [][]byte{bucketRecords, bucketTombstones} {
		root, err := t.bucket(name)
		if err != nil {
			return err
		}
		for _, table := range tables {
			if err := root.DeleteBucket([]byte(table)); err != nil && err != bbolt.ErrBucketNotFound {
				return fmt.Errorf("failed to drop %s/%s bucket: %w", name, table, err)
			}
		}
	}
	return nil
}
