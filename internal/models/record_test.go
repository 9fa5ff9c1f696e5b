package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_IsNewerThan(t *testing.T) {

	tests := []struct {
		other    *Record
		self     *Record
		name     string
		expected bool
	}{
		{
			name:     "self clock greater",
			self:     &Record{Clock: 3, HLC: "a"},
			other:    &Record{Clock: 2, HLC: "b"},
			expected: true,
		},
		{
			name:     "self clock smaller",
			self:     &Record{Clock: 1, HLC: "z"},
			other:    &Record{Clock: 2, HLC: "a"},
			expected: false,
		},
		{
			name:     "clocks equal, self HLC greater lex",
			self:     &Record{Clock: 2, HLC: "000000000000002:0000000000:dev-a"},
			other:    &Record{Clock: 2, HLC: "000000000000001:0000000000:dev-b"},
			expected: true,
		},
		{
			name:     "clocks equal, self HLC lower lex",
			self:     &Record{Clock: 2, HLC: "000000000000001:0000000000:dev-b"},
			other:    &Record{Clock: 2, HLC: "000000000000001:0000000001:dev-a"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.self.IsNewerThan(tt.other))
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	original := &Record{
		UpdatedAt:  time.Now(),
		Table:      "notes",
		PrimaryKey: "n1",
		HLC:        "h",
		DeviceID:   "dev",
		Payload:    json.RawMessage(`{"title":"a"}`),
		Clock:      4,
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	clone.Payload[2] = 'X'
	assert.Equal(t, `{"title":"a"}`, string(original.Payload), "payload must be deep-copied")
}

func TestTombstone_Dominates(t *testing.T) {
	tomb := &Tombstone{Clock: 5}

	assert.True(t, tomb.Dominates(4))
	assert.True(t, tomb.Dominates(5), "equal clock: delete wins")
	assert.False(t, tomb.Dominates(6))
}

func TestPendingOperation_Due(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		op   PendingOperation
		want bool
	}{
		{"pending without backoff", PendingOperation{Status: StatusPending}, true},
		{"pending in backoff", PendingOperation{Status: StatusPending, NextAttemptAt: now.Add(time.Second)}, false},
		{"pending backoff elapsed", PendingOperation{Status: StatusPending, NextAttemptAt: now.Add(-time.Second)}, true},
		{"syncing", PendingOperation{Status: StatusSyncing}, false},
		{"failed", PendingOperation{Status: StatusFailed}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Due(now))
		})
	}
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "notes/n1", Key{Table: "notes", PrimaryKey: "n1"}.String())
}
