package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/transport"
	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server"
	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/internal/server/hub"
	"github.com/iudanet/gophsync/internal/server/service"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
	"github.com/iudanet/gophsync/pkg/api"
)

// testBackend - настоящий backend за httptest сервером
type testBackend struct {
	service *service.Service
	tokens  *auth.Tokens
	url     string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(store, hub.New(8, logger), service.NewMetrics(prometheus.NewRegistry()), service.DefaultConfig(), logger)

	tokens, err := auth.NewTokens(auth.Config{Secret: []byte("client-test-secret")})
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(server.RouterConfig{
		Logger:  logger,
		Backend: svc,
		Tokens:  tokens,
	}))
	t.Cleanup(srv.Close)

	return &testBackend{service: svc, tokens: tokens, url: srv.URL}
}

func (b *testBackend) client(t *testing.T, scope, device string, opts ...Option) *Client {
	t.Helper()
	token, err := b.tokens.Issue(scope, device)
	require.NoError(t, err)
	return NewClient(b.url, token, opts...)
}

func putOp(device, table, pk, payload string) models.PendingOperation {
	id := uuid.NewString()
	return models.PendingOperation{
		ID:         id,
		Table:      table,
		PrimaryKey: pk,
		Kind:       models.OpPut,
		Payload:    json.RawMessage(payload),
		Stamp: models.ChangeStamp{
			DeviceID: device,
			OpID:     id,
			HLC:      crdt.Timestamp{DeviceID: device, Wall: time.Now().UnixMilli()}.String(),
			Clock:    1,
		},
	}
}

func newSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	s, err := crypto.NewSealer(key)
	require.NoError(t, err)
	return s
}

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/", "token")

	assert.Equal(t, "http://localhost:8080", client.baseURL)
	assert.Equal(t, "token", client.token)
	require.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.Nil(t, client.sealer)

	custom := &http.Client{Timeout: time.Second}
	client = NewClient("http://localhost:8080", "token", WithHTTPClient(custom))
	assert.Same(t, custom, client.httpClient)
}

func TestClient_PushAndPull(t *testing.T) {
	backend := newTestBackend(t)
	client := backend.client(t, "notes", "laptop")
	ctx := context.Background()

	op := putOp("laptop", "notes", "n1", `{"title":"hello"}`)
	res, err := client.Push(ctx, "notes", []models.PendingOperation{op})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, op.ID, res.Results[0].OpID)
	assert.True(t, res.Results[0].Accepted)
	assert.Equal(t, int64(1), res.Results[0].ServerVersion)

	// повторная отправка той же операции идемпотентна
	res, err = client.Push(ctx, "notes", []models.PendingOperation{op})
	require.NoError(t, err)
	assert.True(t, res.Results[0].Duplicate)
	assert.Equal(t, int64(1), res.Results[0].ServerVersion)

	page, err := client.Pull(ctx, "notes", 0, 10, []string{"notes"})
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	assert.Equal(t, "n1", page.Changes[0].PrimaryKey)
	assert.JSONEq(t, `{"title":"hello"}`, string(page.Changes[0].Payload))
	assert.Equal(t, op.Stamp, page.Changes[0].Stamp)
	assert.Equal(t, int64(1), page.NextCursor)

	info, err := client.ReportCursor(ctx, "notes", "laptop", page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.MinCursor)
}

func TestClient_SealedPayloads(t *testing.T) {
	backend := newTestBackend(t)
	sealer := newSealer(t)
	client := backend.client(t, "notes", "laptop", WithSealer(sealer))
	ctx := context.Background()

	op := putOp("laptop", "notes", "n1", `{"title":"secret"}`)
	_, err := client.Push(ctx, "notes", []models.PendingOperation{op})
	require.NoError(t, err)

	// backend хранит только конверт
	raw, err := backend.service.Pull(ctx, "notes", 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, raw.Changes, 1)
	assert.True(t, crypto.IsSealed(raw.Changes[0].Payload))
	assert.NotContains(t, string(raw.Changes[0].Payload), "secret")

	page, err := client.Pull(ctx, "notes", 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	assert.JSONEq(t, `{"title":"secret"}`, string(page.Changes[0].Payload))

	// исходная операция в outbox не изменилась
	assert.JSONEq(t, `{"title":"secret"}`, string(op.Payload))

	// устройство с другим ключом не может открыть payload
	other := backend.client(t, "notes", "phone", WithSealer(newSealer(t)))
	_, err = other.Pull(ctx, "notes", 0, 10, nil)
	assert.ErrorIs(t, err, crypto.ErrWrongKey)
}

func TestClient_PullQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/scopes/notes/changes", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("cursor"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "notes,tags", r.URL.Query().Get("tables"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PullResponse{NextCursor: 5})
	}))
	defer srv.Close()

	page, err := NewClient(srv.URL, "token-1").Pull(context.Background(), "notes", 5, 10, []string{"notes", "tags"})
	require.NoError(t, err)
	assert.Empty(t, page.Changes)
	assert.Equal(t, int64(5), page.NextCursor)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        api.ErrorResponse
		wantIs      []error
		wantNotIs   error
		wantMessage string
	}{
		{
			name:        "cursor expired",
			status:      http.StatusGone,
			body:        api.ErrorResponse{Error: "Gone", Code: api.CodeCursorExpired, Message: "cursor 3 is older than retained history"},
			wantIs:      []error{transport.ErrCursorExpired},
			wantNotIs:   transport.ErrUnavailable,
			wantMessage: "older than retained history",
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      api.ErrorResponse{Error: "Internal Server Error", Code: api.CodeInternal},
			wantIs:    []error{transport.ErrUnavailable},
			wantNotIs: transport.ErrCursorExpired,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   api.ErrorResponse{Error: "Unauthorized", Code: api.CodeUnauthorized, Message: "invalid token"},
			wantIs: []error{transport.ErrUnavailable, ErrUnauthorized},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   api.ErrorResponse{Error: "Forbidden", Code: api.CodeForbidden},
			wantIs: []error{transport.ErrUnavailable, ErrUnauthorized},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   api.ErrorResponse{Error: "Too Many Requests", Code: "rate_limited"},
			wantIs: []error{transport.ErrUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "token").Pull(context.Background(), "notes", 3, 0, nil)
			require.Error(t, err)
			for _, target := range tt.wantIs {
				assert.ErrorIs(t, err, target)
			}
			if tt.wantNotIs != nil {
				assert.NotErrorIs(t, err, tt.wantNotIs)
			}
			if tt.wantMessage != "" {
				assert.Contains(t, err.Error(), tt.wantMessage)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "token").Push(context.Background(), "notes", []models.PendingOperation{putOp("laptop", "notes", "n1", `{}`)})
	assert.ErrorIs(t, err, transport.ErrUnavailable)

	_, err = NewClient(url, "token").Subscribe(context.Background(), "notes", nil, 0, func(context.Context, []models.SyncChange) error {
		return nil
	})
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestClient_Subscribe(t *testing.T) {
	backend := newTestBackend(t)
	sealer := newSealer(t)
	laptop := backend.client(t, "notes", "laptop", WithSealer(sealer))
	phone := backend.client(t, "notes", "phone", WithSealer(sealer))
	ctx := context.Background()

	_, err := laptop.Push(ctx, "notes", []models.PendingOperation{putOp("laptop", "notes", "n1", `{"title":"first"}`)})
	require.NoError(t, err)

	received := make(chan models.SyncChange, 10)
	sub, err := phone.Subscribe(ctx, "notes", []string{"notes"}, 0, func(_ context.Context, changes []models.SyncChange) error {
		for _, c := range changes {
			received <- c
		}
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	next := func() models.SyncChange {
		t.Helper()
		select {
		case c := <-received:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("change not delivered")
			return models.SyncChange{}
		}
	}

	// сначала догоняющие изменения
	first := next()
	assert.Equal(t, int64(1), first.ServerVersion)
	assert.JSONEq(t, `{"title":"first"}`, string(first.Payload))

	// затем живые
	_, err = laptop.Push(ctx, "notes", []models.PendingOperation{putOp("laptop", "notes", "n2", `{"title":"second"}`)})
	require.NoError(t, err)

	second := next()
	assert.Equal(t, int64(2), second.ServerVersion)
	assert.Equal(t, "n2", second.PrimaryKey)
	assert.JSONEq(t, `{"title":"second"}`, string(second.Payload))

	require.NoError(t, sub.Close())
	<-sub.Done()
	assert.NoError(t, sub.Err())
}

func TestClient_Subscribe_HandlerErrorEndsStream(t *testing.T) {
	backend := newTestBackend(t)
	client := backend.client(t, "notes", "laptop")
	ctx := context.Background()

	_, err := client.Push(ctx, "notes", []models.PendingOperation{putOp("laptop", "notes", "n1", `{}`)})
	require.NoError(t, err)

	sub, err := client.Subscribe(ctx, "notes", nil, 0, func(context.Context, []models.SyncChange) error {
		return assert.AnError
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), assert.AnError)
}

func TestClient_Subscribe_CursorExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/scopes/notes/subscribe", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("cursor"))

		conn, err := websocket.Accept(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.CloseNow()

		_ = wsjson.Write(r.Context(), conn, api.StreamMessage{Code: api.CodeCursorExpired, Error: "cursor expired"})
		_ = conn.Close(websocket.StatusCode(api.CloseCursorExpired), api.CodeCursorExpired)
	}))
	defer srv.Close()

	sub, err := NewClient(srv.URL, "token").Subscribe(context.Background(), "notes", nil, 7, func(context.Context, []models.SyncChange) error {
		t.Error("no changes expected")
		return nil
	})
	require.NoError(t, err)

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.ErrorIs(t, sub.Err(), transport.ErrCursorExpired)
}

func TestClient_Subscribe_Unauthorized(t *testing.T) {
	backend := newTestBackend(t)
	client := NewClient(backend.url, "not-a-token")

	_, err := client.Subscribe(context.Background(), "notes", nil, 0, func(context.Context, []models.SyncChange) error {
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestClient_Health(t *testing.T) {
	backend := newTestBackend(t)

	resp, err := NewClient(backend.url, "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}
