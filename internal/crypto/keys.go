package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/iudanet/gophsync/internal/validation"
)

// Параметры Argon2id
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
)

// scopeSalt возвращает детерминированную соль scope: все устройства
// scope должны получить один и тот же ключ без обмена солью
func scopeSalt(scope string) []byte {
	sum := sha256.Sum256([]byte("gophsync/scope-key/v1/" + scope))
	return sum[:]
}

// DeriveScopeKey derives the AES-256 payload key of a scope from the
// passphrase shared by its devices, using Argon2id.
func DeriveScopeKey(passphrase, scope string) ([]byte, error) {
	if err := validation.ValidatePassphrase(passphrase); err != nil {
		return nil, err
	}
	if err := validation.ValidateScope(scope); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return argon2.IDKey([]byte(passphrase), scopeSalt(scope), Argon2Time, Argon2Memory, Argon2Threads, KeySize), nil
}
