package validation

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// ScopePattern определяет допустимый формат scope и device id
// Латинские буквы, цифры, '_', '-', '.'; длина 1-64 символа
var ScopePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

// TablePattern определяет допустимое имя таблицы
// Начинается с буквы, далее буквы, цифры и '_'; длина 1-64 символа
var TablePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

const (
	// MaxPrimaryKeyLen максимальная длина первичного ключа в байтах
	MaxPrimaryKeyLen = 256
	// MinPassphraseLen минимальная длина passphrase для шифрования payload
	MinPassphraseLen = 12
)

// ValidateScope проверяет имя scope
func ValidateScope(scope string) error {
	if scope == "" {
		return fmt.Errorf("scope cannot be empty")
	}
	if !ScopePattern.MatchString(scope) {
		return fmt.Errorf("scope %q can only contain letters, numbers, '_', '-', '.' and be at most 64 characters", scope)
	}
	return nil
}

// ValidateDeviceID проверяет идентификатор устройства
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id cannot be empty")
	}
	if !ScopePattern.MatchString(deviceID) {
		return fmt.Errorf("device id %q has invalid format", deviceID)
	}
	return nil
}

// ValidateTable проверяет имя таблицы
func ValidateTable(table string) error {
	if table == "" {
		return fmt.Errorf("table cannot be empty")
	}
	if !TablePattern.MatchString(table) {
		return fmt.Errorf("table %q must start with a letter and contain only letters, numbers and '_'", table)
	}
	return nil
}

// ValidatePrimaryKey проверяет первичный ключ записи
func ValidatePrimaryKey(pk string) error {
	if pk == "" {
		return fmt.Errorf("primary key cannot be empty")
	}
	if len(pk) > MaxPrimaryKeyLen {
		return fmt.Errorf("primary key must not exceed %d bytes", MaxPrimaryKeyLen)
	}
	if !utf8.ValidString(pk) {
		return fmt.Errorf("primary key must be valid UTF-8")
	}
	return nil
}

// ValidatePassphrase проверяет минимальные требования к passphrase
func ValidatePassphrase(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}
	if len(passphrase) < MinPassphraseLen {
		return fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLen)
	}
	return nil
}
