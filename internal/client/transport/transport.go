// Package transport defines how the engine talks to a sync backend.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

var (
	// ErrUnavailable marks transport-level failures: the backend could not
	// be reached or answered with a non-application error. The whole
	// pushed batch is retried later.
	ErrUnavailable = errors.New("sync backend unavailable")

	// ErrCursorExpired means the requested history has been purged and
	// the caller must fall back to a full rescan.
	ErrCursorExpired = api.ErrCursorExpired
)

// ChangeHandler receives live changes in server order. Returning an error
// ends the subscription.
type ChangeHandler func(ctx context.Context, changes []models.SyncChange) error

// Subscription is a running live subscription.
type Subscription interface {
	// Done is closed when the subscription ends
	Done() <-chan struct{}
	// Err returns why the subscription ended, nil after Close
	Err() error
	// Close stops the subscription and waits for the handler to return
	Close() error
}

//go:generate moq -out transport_mock.go . SyncTransport

// SyncTransport is the backend contract used by the engine.
type SyncTransport interface {
	// Subscribe starts a live subscription delivering changes with server
	// version greater than cursor for the listed tables (nil means all).
	Subscribe(ctx context.Context, scope string, tables []string, cursor int64, onChanges ChangeHandler) (Subscription, error)

	// Pull returns up to limit changes after cursor.
	Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error)

	// Push sends operations; re-sending an operation id is a no-op on the backend.
	Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error)

	// ReportCursor tells the backend how far this device has applied.
	ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error)
}

// Stream is a Subscription driven by a goroutine.
type Stream struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
	mu     sync.Mutex
	closed bool
}

// NewStream returns a stream whose Close calls cancel.
func NewStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Finish records the terminal error and closes Done. Only the first call counts.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	if !s.closed {
		s.err = err
	}
	close(s.done)
}

// Done implements Subscription.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err implements Subscription.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Subscription.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}
