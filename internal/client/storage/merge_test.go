package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"object", `{"a":1}`, false},
		{"object with spaces", `  {"a":1} `, false},
		{"empty", ``, true},
		{"array", `[1,2]`, true},
		{"string", `"x"`, true},
		{"broken", `{"a":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(json.RawMessage(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMergePatch(t *testing.T) {
	merged, err := MergePatch(
		json.RawMessage(`{"title":"a","body":"b","tags":["x"]}`),
		json.RawMessage(`{"title":"c","body":null,"done":true}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"c","tags":["x"],"done":true}`, string(merged))
}

func TestMergePatch_Nested(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		patch string
		want  string
	}{
		{
			name:  "nested objects merge",
			base:  `{"meta":{"color":"red","pinned":true},"title":"a"}`,
			patch: `{"meta":{"color":"blue"}}`,
			want:  `{"meta":{"color":"blue","pinned":true},"title":"a"}`,
		},
		{
			name:  "nested null removes key",
			base:  `{"meta":{"color":"red","pinned":true}}`,
			patch: `{"meta":{"pinned":null}}`,
			want:  `{"meta":{"color":"red"}}`,
		},
		{
			name:  "arrays are replaced",
			base:  `{"tags":["a","b"]}`,
			patch: `{"tags":["c"]}`,
			want:  `{"tags":["c"]}`,
		},
		{
			name:  "object replaces scalar",
			base:  `{"meta":"none"}`,
			patch: `{"meta":{"color":"red"}}`,
			want:  `{"meta":{"color":"red"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := MergePatch(json.RawMessage(tt.base), json.RawMessage(tt.patch))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(merged))
		})
	}
}

func TestMergePatch_EmptyBase(t *testing.T) {
	merged, err := MergePatch(nil, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(merged))
}

func TestMergePatch_InvalidPatch(t *testing.T) {
	_, err := MergePatch(json.RawMessage(`{}`), json.RawMessage(`[1]`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNextClock(t *testing.T) {
	assert.Equal(t, int64(1), NextClock(nil, nil))
	assert.Equal(t, int64(4), NextClock(&models.Record{Clock: 3}, nil))
	assert.Equal(t, int64(8), NextClock(nil, &models.Tombstone{Clock: 7}))

	m := &Mutation{Before: &models.Record{Clock: 2}, Tombstone: &models.Tombstone{Clock: 5}}
	assert.Equal(t, int64(6), m.NextClock())
}
