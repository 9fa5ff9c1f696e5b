package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/internal/server/service"
	"github.com/iudanet/gophsync/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newRequest builds a request routed to scope and authenticated as device of tokenScope.
func newRequest(method, target, scope, tokenScope, device string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.SetPathValue("scope", scope)
	if tokenScope != "" {
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Scope: tokenScope, DeviceID: device}))
	}
	return req
}

func pushBody(t *testing.T, device string, ids ...string) []byte {
	t.Helper()
	req := api.PushRequest{DeviceID: device}
	for _, id := range ids {
		req.Operations = append(req.Operations, api.Operation{
			Table:      "notes",
			PrimaryKey: "n-" + id,
			Kind:       "put",
			Payload:    json.RawMessage(`{"title":"x"}`),
			Stamp:      api.Stamp{DeviceID: device, OpID: id, HLC: "000000000001000:0000000000:" + device, Clock: 1},
		})
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestSyncHandler_Push_Success(t *testing.T) {
	svc := &SyncServiceMock{
		PushFunc: func(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error) {
			results := make([]models.OpResult, len(ops))
			for i, op := range ops {
				results[i] = models.OpResult{OpID: op.ID, Accepted: true, ServerVersion: int64(i + 1)}
			}
			return &models.PushResult{Results: results, ServerVersion: 7}, nil
		},
	}
	handler := NewSyncHandler(setupTestLogger(), svc)

	req := newRequest(http.MethodPost, "/api/v1/scopes/notes/push", "notes", "notes", "laptop", pushBody(t, "laptop", "op-1", "op-2"))
	w := httptest.NewRecorder()
	handler.Push(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "op-2", resp.Results[1].OpID)
	assert.Equal(t, int64(2), resp.Results[1].ServerVersion)
	assert.Equal(t, int64(7), resp.ServerVersion)

	calls := svc.PushCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "notes", calls[0].Scope)
	assert.Equal(t, "op-1", calls[0].Ops[0].ID)
	assert.Equal(t, models.OpPut, calls[0].Ops[0].Kind)
}

func TestSyncHandler_Push_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		tokenScope string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no claims",
			body:       []byte(`{}`),
			wantStatus: http.StatusUnauthorized,
			wantCode:   api.CodeUnauthorized,
		},
		{
			name:       "token for another scope",
			tokenScope: "work",
			body:       []byte(`{}`),
			wantStatus: http.StatusForbidden,
			wantCode:   api.CodeForbidden,
		},
		{
			name:       "operation of another device",
			tokenScope: "notes",
			body:       pushBody(t, "phone", "op-1"),
			wantStatus: http.StatusForbidden,
			wantCode:   api.CodeForbidden,
		},
		{
			name:       "malformed body",
			tokenScope: "notes",
			body:       []byte(`{"operations":`),
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &SyncServiceMock{}
			handler := NewSyncHandler(setupTestLogger(), svc)

			req := newRequest(http.MethodPost, "/api/v1/scopes/notes/push", "notes", tt.tokenScope, "laptop", tt.body)
			w := httptest.NewRecorder()
			handler.Push(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			assert.Empty(t, svc.PushCalls())
		})
	}
}

func TestSyncHandler_Changes(t *testing.T) {
	svc := &SyncServiceMock{
		PullFunc: func(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error) {
			return &models.PullResult{
				Changes:    []models.SyncChange{{Table: "notes", PrimaryKey: "a", Kind: models.OpPut, ServerVersion: 6}},
				NextCursor: 6,
				HasMore:    true,
			}, nil
		},
	}
	handler := NewSyncHandler(setupTestLogger(), svc)

	req := newRequest(http.MethodGet, "/api/v1/scopes/notes/changes?cursor=5&limit=10&tables=notes,tasks&tables=tags", "notes", "notes", "laptop", nil)
	w := httptest.NewRecorder()
	handler.Changes(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(6), resp.NextCursor)
	assert.True(t, resp.HasMore)
	require.Len(t, resp.Changes, 1)
	assert.Equal(t, "a", resp.Changes[0].PrimaryKey)

	calls := svc.PullCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(5), calls[0].Cursor)
	assert.Equal(t, 10, calls[0].Limit)
	assert.Equal(t, []string{"notes", "tasks", "tags"}, calls[0].Tables)
}

func TestSyncHandler_Changes_Errors(t *testing.T) {
	tests := []struct {
		err        error
		name       string
		query      string
		wantCode   string
		wantStatus int
	}{
		{
			name:       "invalid cursor",
			query:      "cursor=abc",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeInvalidInput,
		},
		{
			name:       "negative limit",
			query:      "limit=-1",
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeInvalidInput,
		},
		{
			name:       "cursor expired",
			query:      "cursor=1",
			err:        fmt.Errorf("%w: purged through 4", api.ErrCursorExpired),
			wantStatus: http.StatusGone,
			wantCode:   api.CodeCursorExpired,
		},
		{
			name:       "invalid input",
			err:        fmt.Errorf("%w: scope", service.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
			wantCode:   api.CodeInvalidInput,
		},
		{
			name:       "storage failure",
			err:        errors.New("disk I/O error"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   api.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &SyncServiceMock{
				PullFunc: func(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error) {
					return nil, tt.err
				},
			}
			handler := NewSyncHandler(setupTestLogger(), svc)

			req := newRequest(http.MethodGet, "/api/v1/scopes/notes/changes?"+tt.query, "notes", "notes", "laptop", nil)
			w := httptest.NewRecorder()
			handler.Changes(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotContains(t, resp.Message, "disk I/O")
		})
	}
}

func TestSyncHandler_ReportCursor(t *testing.T) {
	svc := &SyncServiceMock{
		ReportCursorFunc: func(ctx context.Context, scope string, deviceID string, version int64) (*models.RetentionInfo, error) {
			return &models.RetentionInfo{MinCursor: 7, PurgedThrough: 3}, nil
		},
	}
	handler := NewSyncHandler(setupTestLogger(), svc)

	body, err := json.Marshal(api.CursorReport{Cursor: 12})
	require.NoError(t, err)
	req := newRequest(http.MethodPost, "/api/v1/scopes/notes/cursor", "notes", "notes", "laptop", body)
	w := httptest.NewRecorder()
	handler.ReportCursor(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.RetentionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.RetentionResponse{MinCursor: 7, PurgedThrough: 3}, resp)

	calls := svc.ReportCursorCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "laptop", calls[0].DeviceID)
	assert.Equal(t, int64(12), calls[0].Version)

	// курсор чужого устройства отклоняется
	body, err = json.Marshal(api.CursorReport{DeviceID: "phone", Cursor: 12})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	handler.ReportCursor(w, newRequest(http.MethodPost, "/api/v1/scopes/notes/cursor", "notes", "notes", "laptop", body))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, svc.ReportCursorCalls(), 1)
}

// subscribeServer serves the subscribe route with claims for notes/laptop.
func subscribeServer(t *testing.T, svc SyncService) *httptest.Server {
	t.Helper()
	handler := NewSyncHandler(setupTestLogger(), svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/scopes/{scope}/subscribe", func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithClaims(r.Context(), &auth.Claims{Scope: "notes", DeviceID: "laptop"})
		handler.Subscribe(w, r.WithContext(ctx))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestSyncHandler_Subscribe_StreamsThenCursorExpired(t *testing.T) {
	svc := &SyncServiceMock{
		StreamFunc: func(ctx context.Context, scope string, tables []string, cursor int64, send func(context.Context, []models.SyncChange) error) error {
			if err := send(ctx, []models.SyncChange{{Table: "notes", PrimaryKey: "a", Kind: models.OpPut, ServerVersion: cursor + 1}}); err != nil {
				return err
			}
			return fmt.Errorf("%w: purged", api.ErrCursorExpired)
		},
	}
	srv := subscribeServer(t, svc)
	conn := dial(t, srv, "/api/v1/scopes/notes/subscribe?cursor=41&tables=notes")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msg api.StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Len(t, msg.Changes, 1)
	assert.Equal(t, int64(42), msg.Changes[0].ServerVersion)

	msg = api.StreamMessage{}
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, api.CodeCursorExpired, msg.Code)

	err := wsjson.Read(ctx, conn, &msg)
	assert.Equal(t, CloseCursorExpired, websocket.CloseStatus(err))

	calls := svc.StreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "notes", calls[0].Scope)
	assert.Equal(t, []string{"notes"}, calls[0].Tables)
}

func TestSyncHandler_Subscribe_ClientCloseCancelsStream(t *testing.T) {
	stopped := make(chan struct{})
	svc := &SyncServiceMock{
		StreamFunc: func(ctx context.Context, scope string, tables []string, cursor int64, send func(context.Context, []models.SyncChange) error) error {
			<-ctx.Done()
			close(stopped)
			return ctx.Err()
		},
	}
	srv := subscribeServer(t, svc)
	conn := dial(t, srv, "/api/v1/scopes/notes/subscribe")

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not cancelled")
	}
}

func TestSyncHandler_Subscribe_ScopeMismatch(t *testing.T) {
	srv := subscribeServer(t, &SyncServiceMock{})

	resp, err := http.Get(srv.URL + "/api/v1/scopes/work/subscribe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
