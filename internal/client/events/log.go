package events

import (
	"context"
	"log/slog"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(e Event) {
	attrs := []any{"event", string(e.Type), "scope", e.Scope}
	if e.Table != "" {
		attrs = append(attrs, "table", e.Table, "primary_key", e.PrimaryKey)
	}
	if e.OpID != "" {
		attrs = append(attrs, "op_id", e.OpID)
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Count != 0 {
		attrs = append(attrs, "count", e.Count)
	}
	if e.Cursor != 0 {
		attrs = append(attrs, "cursor", e.Cursor)
	}
	if e.Winner != "" {
		attrs = append(attrs, "winner", e.Winner, "loser", e.Loser)
	}
	if e.Err != nil {
		attrs = append(attrs, "error", e.Err)
	}

	s.logger.Log(context.Background(), levelFor(e), "sync event", attrs...)
}

func levelFor(e Event) slog.Level {
	switch e.Type {
	case CaptureFailed, OperationFailed, MaxRetriesExceeded:
		return slog.LevelError
	case QueueFull, ConflictDetected, PullFailed:
		return slog.LevelWarn
	case PushCompleted:
		if e.Err != nil {
			return slog.LevelWarn
		}
		return slog.LevelDebug
	case SubscriptionStatus, RescanStarted, RescanCompleted, BootstrapCompleted:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
