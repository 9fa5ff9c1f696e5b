package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ValidatePayload checks that payload is a JSON object.
func ValidatePayload(payload json.RawMessage) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrInvalidPayload
	}
	return nil
}

// MergePatch applies an RFC 7386 JSON merge patch to base: objects merge
// recursively, a null value removes the key, anything else replaces it.
func MergePatch(base, patch json.RawMessage) (json.RawMessage, error) {
	if err := ValidatePayload(patch); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(base)) == 0 {
		base = json.RawMessage(`{}`)
	}

	merged, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to merge patch: %w", err)
	}
	return merged, nil
}
