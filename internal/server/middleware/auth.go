package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/pkg/api"
)

// TokenValidator validates a bearer token and returns its device claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AuthMiddleware создает middleware для проверки токена устройства
// Claims кладутся в контекст; соответствие scope проверяют обработчики
func AuthMiddleware(logger *slog.Logger, tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "missing token")
				return
			}

			tokenString, ok := bearerToken(header)
			if !ok {
				logger.Warn("Invalid Authorization header format", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid token format")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				logger.Warn("Invalid device token", "error", err)
				writeError(w, http.StatusUnauthorized, api.CodeUnauthorized, "invalid token")
				return
			}

			noteDevice(r.Context(), claims)
			logger.Debug("Device authenticated", "scope", claims.Scope, "device_id", claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization: "Bearer <token>"
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
