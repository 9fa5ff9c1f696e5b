package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyID возвращает короткий отпечаток ключа для конверта sealed payload.
// Позволяет отличить чужую passphrase от поврежденных данных.
func KeyID(key []byte) string {
	sum := sha256.Sum256(append([]byte("gophsync/key-id/"), key...))
	return hex.EncodeToString(sum[:8])
}
