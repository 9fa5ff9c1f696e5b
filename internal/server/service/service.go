// Package service implements the backend side of synchronization: an
// idempotent per-scope change log with pull, live streaming and retention.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/hub"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

var (
	// ErrInvalidInput marks malformed requests (bad scope, device or cursor)
	ErrInvalidInput = errors.New("invalid input")

	// ErrRejected marks an operation the backend refuses to apply
	ErrRejected = errors.New("operation rejected")

	// ErrSlowConsumer ends a stream whose subscriber fell behind the hub
	ErrSlowConsumer = errors.New("subscriber too slow, reconnect")
)

// Config holds service settings.
type Config struct {
	Tables            []string // разрешенные таблицы, пусто - любые
	Window            time.Duration
	RetentionInterval time.Duration
	DefaultPullLimit  int
	MaxPullLimit      int
}

// DefaultConfig returns default service settings.
func DefaultConfig() Config {
	return Config{
		Window:            30 * 24 * time.Hour,
		RetentionInterval: time.Hour,
		DefaultPullLimit:  500,
		MaxPullLimit:      1000,
	}
}

// Service is the sync backend.
type Service struct {
	store    storage.Store
	hub      *hub.Hub
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	allowed  map[string]struct{}
	cfg      Config
	appendMu sync.Mutex // append + publish должны идти в порядке версий
}

// New creates the service.
func New(store storage.Store, h *hub.Hub, metrics *Metrics, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = def.RetentionInterval
	}
	if cfg.DefaultPullLimit <= 0 {
		cfg.DefaultPullLimit = def.DefaultPullLimit
	}
	if cfg.MaxPullLimit <= 0 {
		cfg.MaxPullLimit = def.MaxPullLimit
	}

	var allowed map[string]struct{}
	if len(cfg.Tables) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Tables))
		for _, t := range cfg.Tables {
			allowed[t] = struct{}{}
		}
	}

	s := &Service{
		store:   store,
		hub:     h,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		allowed: allowed,
		cfg:     cfg,
	}
	h.OnDrop(func(scope string) { s.metrics.SlowConsumerDropped() })
	return s
}

// Push validates operations and appends the valid ones to the scope log.
// Every operation gets a result; invalid ones are rejected individually.
func (s *Service) Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	results := make([]models.OpResult, len(ops))
	changes := make([]models.SyncChange, 0, len(ops))
	index := make([]int, 0, len(ops))

	for i, op := range ops {
		results[i].OpID = op.ID
		if err := s.validate(&op); err != nil {
			results[i].Error = err.Error()
			s.metrics.Op(resultRejected)
			s.logger.Warn("Operation rejected", "scope", scope, "op_id", op.ID, "error", err)
			continue
		}
		c := op.AsChange()
		c.Stamp.OpID = op.ID
		changes = append(changes, c)
		index = append(index, i)
	}

	head, err := s.append(ctx, scope, changes, index, results)
	if err != nil {
		return nil, err
	}
	return &models.PushResult{Results: results, ServerVersion: head}, nil
}

// append пишет принятые операции в журнал и возвращает head scope после записи
func (s *Service) append(ctx context.Context, scope string, changes []models.SyncChange, index []int, results []models.OpResult) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if len(changes) == 0 {
		head, err := s.store.Head(ctx, scope)
		if err != nil {
			return 0, fmt.Errorf("failed to read scope head: %w", err)
		}
		return head, nil
	}

	appended, err := s.store.Append(ctx, scope, changes, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to append changes: %w", err)
	}

	fresh := make([]models.SyncChange, 0, len(appended))
	for j, r := range appended {
		res := &results[index[j]]
		res.Accepted = true
		res.ServerVersion = r.ServerVersion
		res.Duplicate = r.Duplicate
		if r.Duplicate {
			s.metrics.Op(resultDuplicate)
			continue
		}
		s.metrics.Op(resultAccepted)
		c := changes[j]
		c.ServerVersion = r.ServerVersion
		fresh = append(fresh, c)
	}

	s.hub.Publish(scope, fresh)
	s.logger.Debug("Changes appended", "scope", scope, "appended", len(fresh), "duplicates", len(appended)-len(fresh))

	head, err := s.store.Head(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to read scope head: %w", err)
	}
	return head, nil
}

// validate проверяет одну операцию перед записью в журнал
func (s *Service) validate(op *models.PendingOperation) error {
	if op.ID == "" {
		return fmt.Errorf("%w: missing op id", ErrRejected)
	}
	if op.Stamp.OpID != "" && op.Stamp.OpID != op.ID {
		return fmt.Errorf("%w: stamp op id %q does not match %q", ErrRejected, op.Stamp.OpID, op.ID)
	}
	if err := validation.ValidateTable(op.Table); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if s.allowed != nil {
		if _, ok := s.allowed[op.Table]; !ok {
			return fmt.Errorf("%w: unknown table %q", ErrRejected, op.Table)
		}
	}
	if err := validation.ValidatePrimaryKey(op.PrimaryKey); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if op.Stamp.DeviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrRejected)
	}
	if op.Stamp.Clock <= 0 {
		return fmt.Errorf("%w: clock must be positive", ErrRejected)
	}
	if _, err := crdt.ParseHLC(op.Stamp.HLC); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}

	switch op.Kind {
	case models.OpPut:
		if !isJSONObject(op.Payload) {
			return fmt.Errorf("%w: put payload must be a JSON object", ErrRejected)
		}
	case models.OpDelete:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrRejected, op.Kind)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// Pull returns a page of the change log. A cursor inside purged history
// fails with api.ErrCursorExpired.
func (s *Service) Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if cursor < 0 {
		return nil, fmt.Errorf("%w: negative cursor", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = s.cfg.DefaultPullLimit
	}
	if limit > s.cfg.MaxPullLimit {
		limit = s.cfg.MaxPullLimit
	}

	page, err := s.store.Changes(ctx, scope, cursor, limit, tables)
	if err != nil {
		if errors.Is(err, storage.ErrCursorExpired) {
			s.metrics.CursorExpired()
			return nil, fmt.Errorf("%w: %w", api.ErrCursorExpired, err)
		}
		return nil, fmt.Errorf("failed to read changes: %w", err)
	}

	s.metrics.Pulled(len(page.Changes))
	return page, nil
}

// ReportCursor records a device cursor and returns the retention state.
func (s *Service) ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: negative cursor", ErrInvalidInput)
	}

	now := s.now()
	if err := s.store.ReportCursor(ctx, scope, deviceID, version, now); err != nil {
		return nil, err
	}

	minCursor, ok, err := s.store.MinCursor(ctx, scope, now.Add(-s.cfg.Window))
	if err != nil {
		return nil, err
	}
	if !ok {
		minCursor = version
	}
	purged, err := s.store.PurgedThrough(ctx, scope)
	if err != nil {
		return nil, err
	}

	return &models.RetentionInfo{MinCursor: minCursor, PurgedThrough: purged}, nil
}

// Stream sends every change after cursor, first from the log and then live,
// until ctx is done or send fails. The hub subscription is taken before the
// catch-up so nothing appended in between is missed; duplicates are dropped
// by version.
func (s *Service) Stream(ctx context.Context, scope string, tables []string, cursor int64, send func(context.Context, []models.SyncChange) error) error {
	if err := validation.ValidateScope(scope); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	sub := s.hub.Subscribe(scope)
	defer s.hub.Unsubscribe(sub)
	s.metrics.SubscriberAdded()
	defer s.metrics.SubscriberRemoved()

	for {
		page, err := s.Pull(ctx, scope, cursor, s.cfg.MaxPullLimit, tables)
		if err != nil {
			return err
		}
		if len(page.Changes) > 0 {
			if err := send(ctx, page.Changes); err != nil {
				return err
			}
		}
		if page.NextCursor > cursor {
			cursor = page.NextCursor
		}
		if !page.HasMore {
			break
		}
	}

	filter := tableFilter(tables)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-sub.C:
			if !ok {
				if sub.Dropped() {
					return ErrSlowConsumer
				}
				return nil
			}

			fresh := make([]models.SyncChange, 0, len(batch))
			for _, c := range batch {
				if c.ServerVersion > cursor && filter(c.Table) {
					fresh = append(fresh, c)
				}
			}
			if last := batch[len(batch)-1].ServerVersion; last > cursor {
				cursor = last
			}
			if len(fresh) == 0 {
				continue
			}
			if err := send(ctx, fresh); err != nil {
				return err
			}
		}
	}
}

func tableFilter(tables []string) func(string) bool {
	if len(tables) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		set[t] = struct{}{}
	}
	return func(table string) bool {
		_, ok := set[table]
		return ok
	}
}

// RunRetention purges the log every RetentionInterval until ctx is done.
func (s *Service) RunRetention(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RetainOnce(ctx); err != nil {
				s.logger.Error("Retention pass failed", "error", err)
			}
		}
	}
}

// RetainOnce purges, in every scope, superseded and delete entries that all
// devices active within the window have applied and that are older than the
// window. Scopes without active devices are left alone.
func (s *Service) RetainOnce(ctx context.Context) (int, error) {
	scopes, err := s.store.Scopes(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.cfg.Window)
	total := 0
	for _, scope := range scopes {
		minCursor, ok, err := s.store.MinCursor(ctx, scope, cutoff)
		if err != nil {
			return total, err
		}
		if !ok {
			continue
		}

		n, err := s.store.Purge(ctx, scope, minCursor, cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to purge scope %s: %w", scope, err)
		}
		if n > 0 {
			s.logger.Info("Change log purged", "scope", scope, "entries", n, "through", minCursor)
		}
		s.metrics.Purged(n)
		total += n
	}
	return total, nil
}

// Health checks that the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}
