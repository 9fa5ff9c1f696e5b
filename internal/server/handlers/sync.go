package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/internal/server/service"
	"github.com/iudanet/gophsync/pkg/api"
)

// Коды закрытия WebSocket подписки
const (
	CloseCursorExpired = websocket.StatusCode(api.CloseCursorExpired)
	CloseSlowConsumer  = websocket.StatusCode(api.CloseSlowConsumer)
)

// maxPushBody ограничивает размер тела push запроса
const maxPushBody = 8 << 20

//go:generate moq -out sync_service_mock_test.go . SyncService

// SyncService определяет интерфейс backend синхронизации
type SyncService interface {
	Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error)
	Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error)
	ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error)
	Stream(ctx context.Context, scope string, tables []string, cursor int64, send func(context.Context, []models.SyncChange) error) error
}

// SyncHandler handles change log requests of one scope.
type SyncHandler struct {
	logger       *slog.Logger
	service      SyncService
	writeTimeout time.Duration
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, svc SyncService) *SyncHandler {
	return &SyncHandler{
		logger:       logger,
		service:      svc,
		writeTimeout: 10 * time.Second,
	}
}

// authorize сверяет scope из пути с claims токена
func (h *SyncHandler) authorize(w http.ResponseWriter, r *http.Request) (string, *auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		h.logger.Error("Device claims not found in context")
		sendError(w, http.StatusUnauthorized, api.CodeUnauthorized, "unauthorized")
		return "", nil, false
	}

	scope := r.PathValue("scope")
	if scope != claims.Scope {
		h.logger.Warn("Scope mismatch", "token_scope", claims.Scope, "path_scope", scope, "device_id", claims.DeviceID)
		sendError(w, http.StatusForbidden, api.CodeForbidden, "token is not valid for this scope")
		return "", nil, false
	}
	return scope, claims, true
}

// Push обрабатывает POST /api/v1/scopes/{scope}/push
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	scope, claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req api.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody)).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode push request", "error", err)
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, "invalid request body")
		return
	}

	ops := make([]models.PendingOperation, 0, len(req.Operations))
	for _, op := range req.Operations {
		// устройство может отправлять только собственные операции
		if op.Stamp.DeviceID != claims.DeviceID {
			h.logger.Warn("Operation device mismatch",
				"expected", claims.DeviceID,
				"got", op.Stamp.DeviceID,
				"op_id", op.Stamp.OpID)
			sendError(w, http.StatusForbidden, api.CodeForbidden, "operation device does not match token")
			return
		}
		ops = append(ops, op.ToModel())
	}

	res, err := h.service.Push(r.Context(), scope, ops)
	if err != nil {
		h.serviceError(w, err, scope)
		return
	}

	h.logger.Info("Push completed", "scope", scope, "device_id", claims.DeviceID, "operations", len(ops))
	sendJSON(w, http.StatusOK, api.PushResponse{
		Results:       api.OpResultsFromModel(res.Results),
		ServerVersion: res.ServerVersion,
	})
}

// Changes обрабатывает GET /api/v1/scopes/{scope}/changes?cursor=&limit=&tables=
func (h *SyncHandler) Changes(w http.ResponseWriter, r *http.Request) {
	scope, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	cursor, err := parseInt(q.Get("cursor"))
	if err != nil {
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, "invalid cursor")
		return
	}
	limit, err := parseInt(q.Get("limit"))
	if err != nil {
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, "invalid limit")
		return
	}

	page, err := h.service.Pull(r.Context(), scope, cursor, int(limit), parseTables(q))
	if err != nil {
		h.serviceError(w, err, scope)
		return
	}

	sendJSON(w, http.StatusOK, api.PullResponse{
		Changes:    api.ChangesFromModel(page.Changes),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// ReportCursor обрабатывает POST /api/v1/scopes/{scope}/cursor
func (h *SyncHandler) ReportCursor(w http.ResponseWriter, r *http.Request) {
	scope, claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req api.CursorReport
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, "invalid request body")
		return
	}
	if req.DeviceID != "" && req.DeviceID != claims.DeviceID {
		sendError(w, http.StatusForbidden, api.CodeForbidden, "device does not match token")
		return
	}

	info, err := h.service.ReportCursor(r.Context(), scope, claims.DeviceID, req.Cursor)
	if err != nil {
		h.serviceError(w, err, scope)
		return
	}

	sendJSON(w, http.StatusOK, api.RetentionResponse{
		MinCursor:     info.MinCursor,
		PurgedThrough: info.PurgedThrough,
	})
}

// Subscribe обрабатывает GET /api/v1/scopes/{scope}/subscribe?cursor=&tables=
// Соединение переводится в WebSocket; каждый кадр - api.StreamMessage.
func (h *SyncHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	scope, claims, ok := h.authorize(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	cursor, err := parseInt(q.Get("cursor"))
	if err != nil {
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, "invalid cursor")
		return
	}
	tables := parseTables(q)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead обрабатывает control-кадры и отменяет ctx при закрытии клиентом
	ctx := conn.CloseRead(r.Context())
	h.logger.Info("Subscription opened", "scope", scope, "device_id", claims.DeviceID, "cursor", cursor)

	err = h.service.Stream(ctx, scope, tables, cursor, func(ctx context.Context, changes []models.SyncChange) error {
		wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, api.StreamMessage{Changes: api.ChangesFromModel(changes)})
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		_ = conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, api.ErrCursorExpired):
		h.closeWithError(conn, CloseCursorExpired, api.CodeCursorExpired, err)
	case errors.Is(err, service.ErrSlowConsumer):
		h.closeWithError(conn, CloseSlowConsumer, "slow_consumer", err)
	case websocket.CloseStatus(err) != -1:
		// клиент закрыл соединение во время записи
	default:
		h.logger.Error("Subscription failed", "scope", scope, "device_id", claims.DeviceID, "error", err)
		h.closeWithError(conn, websocket.StatusInternalError, api.CodeInternal, err)
	}
	h.logger.Info("Subscription closed", "scope", scope, "device_id", claims.DeviceID)
}

func (h *SyncHandler) closeWithError(conn *websocket.Conn, status websocket.StatusCode, code string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, api.StreamMessage{Code: code, Error: err.Error()})
	_ = conn.Close(status, code)
}

// serviceError переводит ошибки сервиса в HTTP ответ
func (h *SyncHandler) serviceError(w http.ResponseWriter, err error, scope string) {
	switch {
	case errors.Is(err, api.ErrCursorExpired):
		sendError(w, http.StatusGone, api.CodeCursorExpired, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		sendError(w, http.StatusBadRequest, api.CodeInvalidInput, err.Error())
	default:
		h.logger.Error("Sync request failed", "scope", scope, "error", err)
		sendError(w, http.StatusInternalServerError, api.CodeInternal, "internal server error")
	}
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative value")
	}
	return v, nil
}

// parseTables принимает tables=a,b и повторяющиеся tables=a&tables=b
func parseTables(q map[string][]string) []string {
	var tables []string
	for _, v := range q["tables"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}
	return tables
}

// sendJSON отправляет JSON ответ
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// sendError отправляет JSON ответ с ошибкой
func sendError(w http.ResponseWriter, status int, code, message string) {
	sendJSON(w, status, api.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}
