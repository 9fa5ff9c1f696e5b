package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// Append assigns server versions to changes and stores them in one transaction
func (s *Storage) Append(ctx context.Context, scope string, changes []models.SyncChange, at time.Time) (results []storage.AppendResult, err error) {
	if scope == "" {
		return nil, storage.ErrEmptyScope
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO scopes (scope) VALUES (?) ON CONFLICT(scope) DO NOTHING`, scope); err != nil {
		return nil, fmt.Errorf("failed to create scope: %w", err)
	}

	var head int64
	if err = tx.QueryRowContext(ctx, `SELECT head FROM scopes WHERE scope = ?`, scope).Scan(&head); err != nil {
		return nil, fmt.Errorf("failed to read scope head: %w", err)
	}

	createdAt := at.UnixMilli()
	results = make([]storage.AppendResult, 0, len(changes))
	for _, c := range changes {
		if c.Stamp.OpID == "" || c.Table == "" || c.PrimaryKey == "" {
			err = fmt.Errorf("%w: missing op id or key", storage.ErrInvalidChange)
			return nil, err
		}

		// идемпотентность: повторная отправка op_id возвращает исходную версию
		var existing int64
		err = tx.QueryRowContext(ctx,
			`SELECT server_version FROM applied_ops WHERE scope = ? AND op_id = ?`,
			scope, c.Stamp.OpID,
		).Scan(&existing)
		switch {
		case err == nil:
			results = append(results, storage.AppendResult{OpID: c.Stamp.OpID, ServerVersion: existing, Duplicate: true})
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("failed to check applied operation: %w", err)
		}

		head++
		var payload []byte
		if c.Kind == models.OpPut {
			payload = c.Payload
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO change_log (
				scope, server_version, table_name, primary_key, kind, payload,
				op_id, device_id, hlc, clock, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			scope, head, c.Table, c.PrimaryKey, string(c.Kind), payload,
			c.Stamp.OpID, c.Stamp.DeviceID, c.Stamp.HLC, c.Stamp.Clock, createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to append change: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO applied_ops (scope, op_id, server_version, created_at) VALUES (?, ?, ?, ?)`,
			scope, c.Stamp.OpID, head, createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record applied operation: %w", err)
		}

		results = append(results, storage.AppendResult{OpID: c.Stamp.OpID, ServerVersion: head})
	}

	if _, err = tx.ExecContext(ctx, `UPDATE scopes SET head = ? WHERE scope = ?`, head, scope); err != nil {
		return nil, fmt.Errorf("failed to update scope head: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return results, nil
}

// Changes returns a page of the change log after cursor
func (s *Storage) Changes(ctx context.Context, scope string, cursor int64, limit int, tables []string) (result *models.PullResult, err error) {
	if scope == "" {
		return nil, storage.ErrEmptyScope
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidChange)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, purged, err := scopeState(ctx, tx, scope)
	if err != nil {
		return nil, err
	}
	if cursor > 0 && cursor < purged {
		return nil, fmt.Errorf("%w: cursor %d, purged through %d", storage.ErrCursorExpired, cursor, purged)
	}

	query := `
		SELECT server_version, table_name, primary_key, kind, payload,
		       op_id, device_id, hlc, clock
		FROM change_log
		WHERE scope = ? AND server_version > ? AND server_version <= ?`
	args := []any{scope, cursor, head}
	if len(tables) > 0 {
		query += ` AND table_name IN (?` + strings.Repeat(`, ?`, len(tables)-1) + `)`
		for _, t := range tables {
			args = append(args, t)
		}
	}
	query += ` ORDER BY server_version LIMIT ?`
	args = append(args, limit+1)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	changes, err := scanChanges(rows)
	if err != nil {
		return nil, err
	}

	result = &models.PullResult{NextCursor: cursor}
	if len(changes) > limit {
		result.Changes = changes[:limit]
		result.HasMore = true
		result.NextCursor = changes[limit-1].ServerVersion
		return result, nil
	}

	result.Changes = changes
	// страница последняя: курсор перескакивает через записи чужих таблиц
	if head > cursor {
		result.NextCursor = head
	}
	return result, nil
}

// Head returns the latest server version of the scope
func (s *Storage) Head(ctx context.Context, scope string) (int64, error) {
	var head int64
	err := s.db.QueryRowContext(ctx, `SELECT head FROM scopes WHERE scope = ?`, scope).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read scope head: %w", err)
	}
	return head, nil
}

// queryRower общий интерфейс *sql.DB и *sql.Tx для одиночных запросов
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scopeState(ctx context.Context, q queryRower, scope string) (head, purged int64, err error) {
	err = q.QueryRowContext(ctx, `SELECT head, purged_through FROM scopes WHERE scope = ?`, scope).Scan(&head, &purged)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read scope state: %w", err)
	}
	return head, purged, nil
}

// scanChanges сканирует строки журнала в []models.SyncChange
func scanChanges(rows *sql.Rows) ([]models.SyncChange, error) {
	changes := make([]models.SyncChange, 0)
	for rows.Next() {
		var (
			c       models.SyncChange
			kind    string
			payload []byte
		)
		if err := rows.Scan(
			&c.ServerVersion,
			&c.Table,
			&c.PrimaryKey,
			&kind,
			&payload,
			&c.Stamp.OpID,
			&c.Stamp.DeviceID,
			&c.Stamp.HLC,
			&c.Stamp.Clock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Kind = models.OpKind(kind)
		if len(payload) > 0 {
			c.Payload = payload
		}
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return changes, nil
}
