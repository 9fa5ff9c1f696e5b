package boltdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
)

var (
	// BoltDB bucket names
	bucketRecords    = []byte("records")    // вложенный bucket на каждую таблицу
	bucketTombstones = []byte("tombstones") // вложенный bucket на каждую таблицу
	bucketOutbox     = []byte("outbox")     // ключ - big-endian порядковый номер
	bucketCursors    = []byte("cursors")    // ключ - scope
	bucketMetadata   = []byte("metadata")
)

// Storage represents BoltDB storage implementation for one sync scope
type Storage struct {
	db    *bbolt.DB
	now   func() time.Time
	scope string
	hooks []storage.WriteHook
	mu    sync.RWMutex
}

// Option configures Storage
type Option func(*Storage)

// WithClock overrides the wall clock used for UpdatedAt/DeletedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

var _ storage.Store = (*Storage)(nil)

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath, scope string, opts ...Option) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{
		db:    db,
		now:   time.Now,
		scope: scope,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Scope returns the scope this store belongs to
func (s *Storage) Scope() string {
	return s.scope
}

// RegisterHook installs a pre-commit write hook
func (s *Storage) RegisterHook(hook storage.WriteHook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks = append(s.hooks, hook)
}

// Update runs fn inside a read-write bbolt transaction
func (s *Storage) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	db, hooks, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(btx *bbolt.Tx) error {
		return fn(s.wrap(ctx, btx, hooks))
	})
}

// View runs fn inside a read-only bbolt transaction
func (s *Storage) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	db, _, err := s.handle()
	if err != nil {
		return err
	}

	return db.View(func(btx *bbolt.Tx) error {
		return fn(s.wrap(ctx, btx, nil))
	})
}

func (s *Storage) handle() (*bbolt.DB, []storage.WriteHook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, nil, storage.ErrStorageClosed
	}
	return s.db, s.hooks, nil
}

func (s *Storage) wrap(ctx context.Context, btx *bbolt.Tx, hooks []storage.WriteHook) *tx {
	return &tx{
		ctx:   ctx,
		btx:   btx,
		hooks: hooks,
		scope: s.scope,
		now:   s.now,
	}
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketTombstones, bucketOutbox, bucketCursors, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
