// Package hub fans appended changes out to live subscribers of a scope.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/iudanet/gophsync/internal/models"
)

// DefaultBuffer is the per-subscriber queue length in batches.
const DefaultBuffer = 64

// Subscriber receives change batches of one scope. C is closed when the
// subscriber is removed or dropped for falling behind.
type Subscriber struct {
	C       <-chan []models.SyncChange
	ch      chan []models.SyncChange
	scope   string
	id      uint64
	dropped atomic.Bool
	mu      sync.Mutex
	closed  bool
}

// Dropped reports whether the subscriber was disconnected because its
// queue overflowed.
func (s *Subscriber) Dropped() bool {
	return s.dropped.Load()
}

// offer кладет батч в очередь без блокировки; false если очередь переполнена
func (s *Subscriber) offer(batch []models.SyncChange) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- batch:
		return true
	default:
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub keeps subscribers per scope.
type Hub struct {
	scopes *xsync.MapOf[string, *xsync.MapOf[uint64, *Subscriber]]
	logger *slog.Logger
	onDrop func(scope string)
	nextID atomic.Uint64
	buffer int
}

// New creates a hub. buffer <= 0 means DefaultBuffer.
func New(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		scopes: xsync.NewMapOf[string, *xsync.MapOf[uint64, *Subscriber]](),
		logger: logger,
		buffer: buffer,
	}
}

// OnDrop registers a callback invoked when a slow subscriber is dropped.
func (h *Hub) OnDrop(fn func(scope string)) {
	h.onDrop = fn
}

// Subscribe registers a subscriber for scope.
func (h *Hub) Subscribe(scope string) *Subscriber {
	ch := make(chan []models.SyncChange, h.buffer)
	sub := &Subscriber{
		C:     ch,
		ch:    ch,
		scope: scope,
		id:    h.nextID.Add(1),
	}

	subs, _ := h.scopes.LoadOrCompute(scope, func() *xsync.MapOf[uint64, *Subscriber] {
		return xsync.NewMapOf[uint64, *Subscriber]()
	})
	subs.Store(sub.id, sub)
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if subs, ok := h.scopes.Load(sub.scope); ok {
		subs.Delete(sub.id)
	}
	sub.close()
}

// Publish delivers batch to every subscriber of scope without blocking.
// Subscribers whose queue is full are dropped.
func (h *Hub) Publish(scope string, batch []models.SyncChange) {
	if len(batch) == 0 {
		return
	}
	subs, ok := h.scopes.Load(scope)
	if !ok {
		return
	}

	subs.Range(func(id uint64, sub *Subscriber) bool {
		if sub.offer(batch) {
			return true
		}
		sub.dropped.Store(true)
		subs.Delete(id)
		sub.close()
		h.logger.Warn("Dropping slow subscriber", "scope", scope, "subscriber", id)
		if h.onDrop != nil {
			h.onDrop(scope)
		}
		return true
	})
}

// Count returns the number of live subscribers of scope.
func (h *Hub) Count(scope string) int {
	subs, ok := h.scopes.Load(scope)
	if !ok {
		return 0
	}
	return subs.Size()
}
