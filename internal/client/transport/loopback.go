package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/iudanet/gophsync/internal/models"
)

// Backend is an in-process sync backend.
type Backend interface {
	Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error)
	Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error)
	ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error)
	// Stream sends catch-up and then live changes after cursor until ctx
	// is cancelled or send fails.
	Stream(ctx context.Context, scope string, tables []string, cursor int64, send func(context.Context, []models.SyncChange) error) error
}

// Loopback adapts an in-process Backend to SyncTransport. It is used by the
// embedded mode and by tests; SetOffline simulates a lost network.
type Loopback struct {
	backend Backend
	offline atomic.Bool
}

var _ SyncTransport = (*Loopback)(nil)

// NewLoopback wraps backend.
func NewLoopback(backend Backend) *Loopback {
	return &Loopback{backend: backend}
}

// SetOffline toggles simulated network loss.
func (l *Loopback) SetOffline(offline bool) {
	l.offline.Store(offline)
}

func (l *Loopback) check() error {
	if l.offline.Load() {
		return fmt.Errorf("%w: offline", ErrUnavailable)
	}
	return nil
}

// Subscribe implements SyncTransport.
func (l *Loopback) Subscribe(ctx context.Context, scope string, tables []string, cursor int64, onChanges ChangeHandler) (Subscription, error) {
	if err := l.check(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := NewStream(cancel)

	go func() {
		err := l.backend.Stream(streamCtx, scope, tables, cursor, func(ctx context.Context, changes []models.SyncChange) error {
			if err := l.check(); err != nil {
				return err
			}
			return onChanges(ctx, changes)
		})
		if err == nil {
			err = fmt.Errorf("%w: stream closed", ErrUnavailable)
		}
		stream.Finish(err)
	}()

	return stream, nil
}

// Pull implements SyncTransport.
func (l *Loopback) Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.backend.Pull(ctx, scope, cursor, limit, tables)
}

// Push implements SyncTransport.
func (l *Loopback) Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.backend.Push(ctx, scope, ops)
}

// ReportCursor implements SyncTransport.
func (l *Loopback) ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	return l.backend.ReportCursor(ctx, scope, deviceID, version)
}
