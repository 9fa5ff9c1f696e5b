// Package events defines the observability events emitted by the sync engine
// and a few sinks for them. Emission is fire-and-forget: a sink must never
// block and never change engine behavior.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	OperationCaptured   Type = "operation_captured"
	CaptureFailed       Type = "capture_failed"
	PushStarted         Type = "push_started"
	PushCompleted       Type = "push_completed"
	OperationFailed     Type = "operation_failed"
	PullReceived        Type = "pull_received"
	PullApplied         Type = "pull_applied"
	PullFailed          Type = "pull_failed"
	ConflictDetected    Type = "conflict_detected"
	BootstrapStarted    Type = "bootstrap_started"
	BootstrapProgress   Type = "bootstrap_progress"
	BootstrapCompleted  Type = "bootstrap_completed"
	RescanStarted       Type = "rescan_started"
	RescanProgress      Type = "rescan_progress"
	RescanCompleted     Type = "rescan_completed"
	SubscriptionStatus  Type = "subscription_status"
	QueueFull           Type = "queue_full"
	MaxRetriesExceeded  Type = "max_retries_exceeded"
	RetentionReported   Type = "retention_reported"
	TombstonesCollected Type = "tombstones_collected"
)

// Event is a single observability event.
type Event struct {
	Time       time.Time
	Err        error
	Type       Type
	Scope      string
	Table      string
	PrimaryKey string
	OpID       string
	Status     string // состояние подписки или итог операции
	Winner     string // HLC победителя в конфликте
	Loser      string // HLC проигравшего
	Count      int
	Cursor     int64
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		s.Emit(e)
	}
}

// Emitter stamps scope and time on events before passing them on.
type Emitter struct {
	sink  Sink
	now   func() time.Time
	scope string
}

// NewEmitter returns an emitter for one scope. A nil sink discards events.
func NewEmitter(scope string, sink Sink) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink, scope: scope, now: time.Now}
}

// Emit fills Scope and Time and forwards the event.
func (em *Emitter) Emit(e Event) {
	if em == nil {
		return
	}
	if e.Scope == "" {
		e.Scope = em.scope
	}
	if e.Time.IsZero() {
		e.Time = em.now()
	}
	em.sink.Emit(e)
}

// Recorder keeps every event in memory.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns recorded events of the given type.
func (r *Recorder) Filter(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of recorded events of the given type.
func (r *Recorder) Count(t Type) int {
	return len(r.Filter(t))
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
