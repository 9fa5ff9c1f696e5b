package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReportCursor records the cursor a device has applied
func (s *Storage) ReportCursor(ctx context.Context, scope, deviceID string, cursor int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_cursors (scope, device_id, cursor, reported_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, device_id) DO UPDATE SET
			cursor = excluded.cursor,
			reported_at = excluded.reported_at`,
		scope, deviceID, cursor, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save device cursor: %w", err)
	}
	return nil
}

// MinCursor returns the smallest cursor among devices seen since the given time
func (s *Storage) MinCursor(ctx context.Context, scope string, since time.Time) (int64, bool, error) {
	var minCursor sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(cursor) FROM device_cursors WHERE scope = ? AND reported_at >= ?`,
		scope, since.UnixMilli(),
	).Scan(&minCursor)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query min cursor: %w", err)
	}
	return minCursor.Int64, minCursor.Valid, nil
}

// purgeable: записи удалений и записи, перекрытые более новой версией того же ключа
const purgeable = `
	scope = ? AND server_version <= ? AND created_at < ? AND (
		kind = 'delete' OR EXISTS (
			SELECT 1 FROM change_log AS newer
			WHERE newer.scope = change_log.scope
			  AND newer.table_name = change_log.table_name
			  AND newer.primary_key = change_log.primary_key
			  AND newer.server_version > change_log.server_version
		)
	)`

// Purge removes superseded and delete entries at or below through
func (s *Storage) Purge(ctx context.Context, scope string, through int64, olderThan time.Time) (n int, err error) {
	if through <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cutoff := olderThan.UnixMilli()

	var maxPurged sql.NullInt64
	if err = tx.QueryRowContext(ctx,
		`SELECT MAX(server_version) FROM change_log WHERE `+purgeable,
		scope, through, cutoff,
	).Scan(&maxPurged); err != nil {
		return 0, fmt.Errorf("failed to find purgeable entries: %w", err)
	}
	if !maxPurged.Valid {
		err = tx.Commit()
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM change_log WHERE `+purgeable, scope, through, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge change log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE scopes SET purged_through = MAX(purged_through, ?) WHERE scope = ?`,
		maxPurged.Int64, scope,
	); err != nil {
		return 0, fmt.Errorf("failed to update purge watermark: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM applied_ops WHERE scope = ? AND server_version <= ? AND created_at < ?`,
		scope, through, cutoff,
	); err != nil {
		return 0, fmt.Errorf("failed to purge applied operations: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(affected), nil
}

// PurgedThrough returns the purge watermark of the scope
func (s *Storage) PurgedThrough(ctx context.Context, scope string) (int64, error) {
	_, purged, err := scopeState(ctx, s.db, scope)
	return purged, err
}

// Scopes lists every known scope
func (s *Storage) Scopes(ctx context.Context) (scopes []string, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope FROM scopes ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scopes: %w", err)
	}
	return scopes, nil
}
