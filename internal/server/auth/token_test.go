package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueValidate(t *testing.T) {
	tokens, err := NewTokens(Config{Secret: []byte("test-secret"), TTL: time.Hour})
	require.NoError(t, err)

	token, err := tokens.Issue("notes", "laptop")
	require.NoError(t, err)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "notes", claims.Scope)
	assert.Equal(t, "laptop", claims.DeviceID)
	assert.Equal(t, Issuer, claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
}

func TestTokens_NoExpiry(t *testing.T) {
	tokens, err := NewTokens(Config{Secret: []byte("test-secret")})
	require.NoError(t, err)

	token, err := tokens.Issue("notes", "laptop")
	require.NoError(t, err)

	tokens.now = func() time.Time { return time.Now().Add(10 * 365 * 24 * time.Hour) }
	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestTokens_Rejects(t *testing.T) {
	tokens, err := NewTokens(Config{Secret: []byte("test-secret"), TTL: time.Minute})
	require.NoError(t, err)
	other, err := NewTokens(Config{Secret: []byte("other-secret")})
	require.NoError(t, err)

	valid, err := tokens.Issue("notes", "laptop")
	require.NoError(t, err)
	foreign, err := other.Issue("notes", "laptop")
	require.NoError(t, err)

	noScope, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		DeviceID:         "laptop",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Scope:            "notes",
		DeviceID:         "laptop",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		shift time.Duration
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "wrong secret", token: foreign},
		{name: "expired", token: valid, shift: 2 * time.Minute},
		{name: "missing scope", token: noScope},
		{name: "none algorithm", token: none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens.now = func() time.Time { return time.Now().Add(tt.shift) }
			_, err := tokens.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokens_IssueValidatesInput(t *testing.T) {
	tokens, err := NewTokens(Config{Secret: []byte("s")})
	require.NoError(t, err)

	_, err = tokens.Issue("", "laptop")
	assert.Error(t, err)
	_, err = tokens.Issue("notes", "bad device")
	assert.Error(t, err)

	_, err = NewTokens(Config{})
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), &Claims{Scope: "s", DeviceID: "d"})
	claims, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "s", claims.Scope)
}
