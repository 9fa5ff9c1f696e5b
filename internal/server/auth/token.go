// Package auth issues and validates device bearer tokens. A token binds a
// device to exactly one scope.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iudanet/gophsync/internal/validation"
)

// Issuer name stamped into every token.
const Issuer = "gophsync"

// ErrInvalidToken is returned for tokens that fail parsing or validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims представляет JWT claims устройства
type Claims struct {
	Scope    string `json:"scope"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Config содержит конфигурацию для JWT
type Config struct {
	Secret []byte
	TTL    time.Duration // 0 - токен без срока действия
}

// Tokens issues and validates HS256 device tokens.
type Tokens struct {
	now func() time.Time
	cfg Config
}

// NewTokens creates a token service. The secret must not be empty.
func NewTokens(cfg Config) (*Tokens, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &Tokens{cfg: cfg, now: time.Now}, nil
}

// Issue создает новый токен для устройства в scope
func (t *Tokens) Issue(scope, deviceID string) (string, error) {
	if err := validation.ValidateScope(scope); err != nil {
		return "", err
	}
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		return "", err
	}

	now := t.now()
	claims := Claims{
		Scope:    scope,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}
	if t.cfg.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.cfg.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate валидирует и парсит токен устройства
func (t *Tokens) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.cfg.Secret, nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope == "" || claims.DeviceID == "" {
		return nil, fmt.Errorf("%w: missing scope or device", ErrInvalidToken)
	}
	return claims, nil
}

type contextKey struct{}

// WithClaims returns a context carrying the authenticated device claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext извлекает claims из контекста запроса
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}
