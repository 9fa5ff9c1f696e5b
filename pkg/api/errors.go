package api

import "errors"

// Error codes carried in ErrorResponse.Code and StreamMessage.Code.
const (
	CodeCursorExpired = "cursor_expired"
	CodeInvalidInput  = "invalid_input"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeInternal      = "internal"
)

// WebSocket close codes of the subscribe stream (4000-4999 are application codes).
const (
	CloseCursorExpired = 4410
	CloseSlowConsumer  = 4429
)

// ErrCursorExpired is returned when a pull or subscription starts from a
// cursor older than the backend's retained history.
var ErrCursorExpired = errors.New("cursor expired")

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Code    string `json:"code,omitempty"`    // машинно-читаемый код
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
