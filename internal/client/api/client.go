// Package api implements the HTTP and WebSocket sync transport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/iudanet/gophsync/internal/client/transport"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// ErrUnauthorized означает, что сервер отклонил токен устройства
var ErrUnauthorized = errors.New("device token rejected")

// maxStreamMessage ограничивает размер одного кадра подписки
const maxStreamMessage = 32 << 20

// PayloadSealer encrypts payloads on the way out and decrypts them on the way in.
type PayloadSealer interface {
	Seal(table, pk string, payload json.RawMessage) (json.RawMessage, error)
	Open(table, pk string, payload json.RawMessage) (json.RawMessage, error)
}

// Client представляет HTTP клиент для взаимодействия с сервером синхронизации
type Client struct {
	httpClient *http.Client
	sealer     PayloadSealer
	baseURL    string
	token      string
}

var _ transport.SyncTransport = (*Client)(nil)

// Option настраивает Client
type Option func(*Client)

// WithHTTPClient подменяет HTTP клиент (используется в тестах)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSealer включает шифрование payload на стороне клиента
func WithSealer(s PayloadSealer) Option {
	return func(c *Client) {
		c.sealer = s
	}
}

// NewClient создает новый API клиент
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func scopePath(scope, action string) string {
	return "/api/v1/scopes/" + url.PathEscape(scope) + "/" + action
}

// Push отправляет операции на сервер. Payload put-операций шифруется, если задан sealer.
func (c *Client) Push(ctx context.Context, scope string, ops []models.PendingOperation) (*models.PushResult, error) {
	req := api.PushRequest{Operations: make([]api.Operation, 0, len(ops))}
	for _, op := range ops {
		wire := api.OperationFromModel(op)
		if c.sealer != nil && op.Kind == models.OpPut {
			sealed, err := c.sealer.Seal(op.Table, op.PrimaryKey, op.Payload)
			if err != nil {
				return nil, err
			}
			wire.Payload = sealed
		}
		req.DeviceID = op.Stamp.DeviceID
		req.Operations = append(req.Operations, wire)
	}

	var resp api.PushResponse
	if err := c.doRequest(ctx, http.MethodPost, scopePath(scope, "push"), req, &resp); err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	return &models.PushResult{
		Results:       api.OpResultsToModel(resp.Results),
		ServerVersion: resp.ServerVersion,
	}, nil
}

// Pull получает страницу журнала изменений после cursor
func (c *Client) Pull(ctx context.Context, scope string, cursor int64, limit int, tables []string) (*models.PullResult, error) {
	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(tables) > 0 {
		q.Set("tables", strings.Join(tables, ","))
	}

	var resp api.PullResponse
	if err := c.doRequest(ctx, http.MethodGet, scopePath(scope, "changes")+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}

	changes, err := c.openChanges(resp.Changes)
	if err != nil {
		return nil, err
	}
	return &models.PullResult{
		Changes:    changes,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

// ReportCursor сообщает серверу позицию устройства в журнале
func (c *Client) ReportCursor(ctx context.Context, scope, deviceID string, version int64) (*models.RetentionInfo, error) {
	var resp api.RetentionResponse
	req := api.CursorReport{DeviceID: deviceID, Cursor: version}
	if err := c.doRequest(ctx, http.MethodPost, scopePath(scope, "cursor"), req, &resp); err != nil {
		return nil, fmt.Errorf("cursor report failed: %w", err)
	}
	return &models.RetentionInfo{MinCursor: resp.MinCursor, PurgedThrough: resp.PurgedThrough}, nil
}

// Health запрашивает состояние сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// Subscribe открывает WebSocket подписку. Кадры читаются в отдельной горутине
// и передаются onChanges в порядке сервера.
func (c *Client) Subscribe(ctx context.Context, scope string, tables []string, cursor int64, onChanges transport.ChangeHandler) (transport.Subscription, error) {
	wsURL, err := c.subscribeURL(scope, tables, cursor)
	if err != nil {
		return nil, err
	}

	// таймаут http.Client не должен ограничивать время жизни подписки
	hc := *c.httpClient
	hc.Timeout = 0

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: &hc,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe failed: %w", statusError(resp.StatusCode, resp.Body))
		}
		return nil, fmt.Errorf("%w: subscribe: %w", transport.ErrUnavailable, err)
	}
	conn.SetReadLimit(maxStreamMessage)

	streamCtx, cancel := context.WithCancel(ctx)
	stream := transport.NewStream(cancel)

	go func() {
		defer conn.CloseNow()
		err := c.readStream(streamCtx, conn, onChanges)
		if err != nil && streamCtx.Err() == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		stream.Finish(err)
	}()

	return stream, nil
}

func (c *Client) subscribeURL(scope string, tables []string, cursor int64) (string, error) {
	u, err := url.Parse(c.baseURL + scopePath(scope, "subscribe"))
	if err != nil {
		return "", fmt.Errorf("invalid server address: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	if len(tables) > 0 {
		q.Set("tables", strings.Join(tables, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readStream(ctx context.Context, conn *websocket.Conn, onChanges transport.ChangeHandler) error {
	for {
		var msg api.StreamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == api.CloseCursorExpired {
				return transport.ErrCursorExpired
			}
			return fmt.Errorf("%w: stream: %w", transport.ErrUnavailable, err)
		}

		switch msg.Code {
		case "":
		case api.CodeCursorExpired:
			return transport.ErrCursorExpired
		default:
			return fmt.Errorf("%w: stream ended by server: %s: %s", transport.ErrUnavailable, msg.Code, msg.Error)
		}
		if len(msg.Changes) == 0 {
			continue
		}

		changes, err := c.openChanges(msg.Changes)
		if err != nil {
			return err
		}
		if err := onChanges(ctx, changes); err != nil {
			return err
		}
	}
}

func (c *Client) openChanges(wire []api.Change) ([]models.SyncChange, error) {
	changes := api.ChangesToModel(wire)
	if c.sealer == nil {
		return changes, nil
	}
	for i := range changes {
		if changes[i].Kind != models.OpPut {
			continue
		}
		payload, err := c.sealer.Open(changes[i].Table, changes[i].PrimaryKey, changes[i].Payload)
		if err != nil {
			return nil, err
		}
		changes[i].Payload = payload
	}
	return changes, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", transport.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, resp.Body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %w", transport.ErrUnavailable, err)
		}
	}
	return nil
}

// statusError переводит ответ с ошибкой в ошибку транспорта.
// 410 - история удалена, все остальное повторяется позже.
func statusError(status int, body io.Reader) error {
	var errResp api.ErrorResponse
	if body != nil {
		_ = json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&errResp)
	}
	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusGone || errResp.Code == api.CodeCursorExpired:
		return fmt.Errorf("%w: %s", transport.ErrCursorExpired, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", transport.ErrUnavailable, ErrUnauthorized, msg)
	default:
		return fmt.Errorf("%w: server error (status %d): %s", transport.ErrUnavailable, status, msg)
	}
}
