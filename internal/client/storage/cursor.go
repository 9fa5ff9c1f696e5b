package storage

import "context"

// CursorStore persists the last fully applied server version per scope.
// Advancing happens only through Tx.AdvanceCursor, inside the transaction
// that applies the pulled batch.
type CursorStore interface {
	// Cursor returns the cursor for the scope, 0 if nothing was applied yet
	Cursor(ctx context.Context, scope string) (int64, error)

	// ResetCursor moves the cursor back to 0 so the next pull starts from scratch
	ResetCursor(ctx context.Context, scope string) error
}
