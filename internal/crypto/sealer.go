package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrWrongKey is returned when a payload was sealed with another scope key.
var ErrWrongKey = errors.New("payload sealed with a different key")

// envelope - формат зашифрованного payload: {"sealed":"<base64>","kid":"<key id>"}
// Остается JSON объектом, поэтому проходит валидацию backend.
type envelope struct {
	Sealed string `json:"sealed"`
	KeyID  string `json:"kid"`
}

// Sealer encrypts record payloads before they leave the device and opens
// them when they come back. The table and primary key are bound as
// associated data, so a sealed payload cannot be replayed under another key.
type Sealer struct {
	key []byte
	kid string
}

// NewSealer creates a sealer for a 32-byte scope key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	return &Sealer{key: key, kid: KeyID(key)}, nil
}

func associatedData(table, pk string) []byte {
	return []byte(table + "\x00" + pk)
}

// Seal шифрует payload записи table/pk
func (s *Sealer) Seal(table, pk string, payload json.RawMessage) (json.RawMessage, error) {
	encrypted, err := Encrypt(payload, s.key, associatedData(table, pk))
	if err != nil {
		return nil, fmt.Errorf("failed to seal %s/%s: %w", table, pk, err)
	}
	return json.Marshal(envelope{
		Sealed: base64.StdEncoding.EncodeToString(encrypted),
		KeyID:  s.kid,
	})
}

// Open расшифровывает payload. Payload без конверта возвращается как есть.
func (s *Sealer) Open(table, pk string, payload json.RawMessage) (json.RawMessage, error) {
	env, ok := parseEnvelope(payload)
	if !ok {
		return payload, nil
	}
	if env.KeyID != "" && env.KeyID != s.kid {
		return nil, fmt.Errorf("%w: %s/%s", ErrWrongKey, table, pk)
	}

	encrypted, err := base64.StdEncoding.DecodeString(env.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed payload: %w", err)
	}
	plaintext, err := Decrypt(encrypted, s.key, associatedData(table, pk))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s: %w", table, pk, err)
	}
	return plaintext, nil
}

// IsSealed reports whether payload is a sealed envelope.
func IsSealed(payload json.RawMessage) bool {
	_, ok := parseEnvelope(payload)
	return ok
}

func parseEnvelope(payload json.RawMessage) (envelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return envelope{}, false
	}
	if _, ok := fields["sealed"]; !ok {
		return envelope{}, false
	}
	for k := range fields {
		if k != "sealed" && k != "kid" {
			return envelope{}, false
		}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Sealed == "" {
		return envelope{}, false
	}
	return env, true
}
