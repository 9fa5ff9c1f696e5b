package api

import (
	"encoding/json"
	"time"
)

// Stamp описывает причинные метаданные одной записи
type Stamp struct {
	DeviceID string `json:"device_id"`
	OpID     string `json:"op_id"`
	HLC      string `json:"hlc"`
	Clock    int64  `json:"clock"`
}

// Operation представляет одну локальную операцию, отправляемую на сервер
type Operation struct {
	CreatedAt  time.Time       `json:"created_at"`
	Table      string          `json:"table"`
	PrimaryKey string          `json:"primary_key"`
	Kind       string          `json:"kind"`              // "put" или "delete"
	Payload    json.RawMessage `json:"payload,omitempty"` // обязателен для put
	Stamp      Stamp           `json:"stamp"`
}

// PushRequest представляет запрос на отправку операций
type PushRequest struct {
	DeviceID   string      `json:"device_id"`
	Operations []Operation `json:"operations"`
}

// OpResult результат обработки одной операции
type OpResult struct {
	OpID          string `json:"op_id"`
	Error         string `json:"error,omitempty"`
	ServerVersion int64  `json:"server_version,omitempty"`
	Accepted      bool   `json:"accepted"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// PushResponse представляет ответ сервера на push
type PushResponse struct {
	Results       []OpResult `json:"results"`
	ServerVersion int64      `json:"server_version"`
}

// Change представляет одну запись журнала изменений сервера
type Change struct {
	Table         string          `json:"table"`
	PrimaryKey    string          `json:"primary_key"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Stamp         Stamp           `json:"stamp"`
	ServerVersion int64           `json:"server_version"`
}

// PullResponse представляет одну страницу журнала изменений
type PullResponse struct {
	Changes    []Change `json:"changes"`
	NextCursor int64    `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

// CursorReport отправляется устройством для учета при сборке мусора
type CursorReport struct {
	DeviceID string `json:"device_id"`
	Cursor   int64  `json:"cursor"`
}

// RetentionResponse ответ на CursorReport
type RetentionResponse struct {
	MinCursor     int64 `json:"min_cursor"`
	PurgedThrough int64 `json:"purged_through"`
}

// StreamMessage кадр живой подписки (WebSocket)
type StreamMessage struct {
	Changes []Change `json:"changes,omitempty"`
	Error   string   `json:"error,omitempty"`
	Code    string   `json:"code,omitempty"`
}

// HealthResponse ответ health-check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
