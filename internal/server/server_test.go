package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/crdt"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/auth"
	"github.com/iudanet/gophsync/internal/server/hub"
	"github.com/iudanet/gophsync/internal/server/middleware"
	"github.com/iudanet/gophsync/internal/server/service"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
	"github.com/iudanet/gophsync/pkg/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	backend *service.Service
	tokens  *auth.Tokens
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := discardLogger()
	reg := prometheus.NewRegistry()
	svc := service.New(store, hub.New(8, logger), service.NewMetrics(reg), service.DefaultConfig(), logger)

	tokens, err := auth.NewTokens(auth.Config{Secret: []byte("router-test-secret")})
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(100, time.Minute, logger)
	t.Cleanup(limiter.Stop)

	return &testEnv{
		backend: svc,
		tokens:  tokens,
		handler: NewRouter(RouterConfig{
			Logger:   logger,
			Backend:  svc,
			Tokens:   tokens,
			Limiter:  limiter,
			Gatherer: reg,
			Version:  "test",
		}),
	}
}

func (e *testEnv) token(t *testing.T, scope, device string) string {
	t.Helper()
	token, err := e.tokens.Issue(scope, device)
	require.NoError(t, err)
	return token
}

func noteOp(device, pk string) api.Operation {
	id := uuid.NewString()
	return api.Operation{
		Table:      "notes",
		PrimaryKey: pk,
		Kind:       string(models.OpPut),
		Payload:    json.RawMessage(`{"title":"hello"}`),
		Stamp: api.Stamp{
			DeviceID: device,
			OpID:     id,
			HLC:      crdt.Timestamp{DeviceID: device, Wall: 1_000}.String(),
			Clock:    1,
		},
	}
}

func do(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.handler, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestRouter_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.handler, http.MethodGet, "/api/v1/scopes/notes/changes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// токен другого scope
	w = do(t, env.handler, http.MethodGet, "/api/v1/scopes/notes/changes", env.token(t, "work", "laptop"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRouter_PushPullAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "notes", "laptop")

	op := noteOp("laptop", "n1")
	w := do(t, env.handler, http.MethodPost, "/api/v1/scopes/notes/push", token,
		api.PushRequest{DeviceID: "laptop", Operations: []api.Operation{op}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var push api.PushResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&push))
	require.Len(t, push.Results, 1)
	assert.True(t, push.Results[0].Accepted)
	assert.Equal(t, int64(1), push.Results[0].ServerVersion)

	w = do(t, env.handler, http.MethodGet, "/api/v1/scopes/notes/changes?cursor=0", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var pull api.PullResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pull))
	require.Len(t, pull.Changes, 1)
	assert.Equal(t, "n1", pull.Changes[0].PrimaryKey)
	assert.Equal(t, int64(1), pull.NextCursor)
	assert.False(t, pull.HasMore)

	w = do(t, env.handler, http.MethodPost, "/api/v1/scopes/notes/cursor", token,
		api.CursorReport{DeviceID: "laptop", Cursor: 1})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, env.handler, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gophsync_server_operations_total{result="accepted"} 1`)
}

func TestRouter_UnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	w := do(t, env.handler, http.MethodDelete, "/api/v1/scopes/notes/push", env.token(t, "notes", "laptop"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	env := newTestEnv(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(ln.Addr().String(), env.handler, env.backend, time.Second, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
