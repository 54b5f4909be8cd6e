package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/donkynetwork/donky-core-go/internal/notification"
)

// push frame types
const (
	frameSynchronise         = "Synchronise"
	frameSynchroniseResponse = "SynchroniseResponse"
	frameNotificationPending = "NotificationPending"
)

type pushFrame struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// PushChannel performs exchanges over the persistent websocket stream and
// surfaces unsolicited notification-pending signals from the network. It is
// the opportunistic primary channel while the app is foregrounded.
type PushChannel struct {
	url    string
	apiKey string
	tokens TokenSource
	logger *slog.Logger

	// OnPending is invoked from the reader goroutine whenever the network
	// signals pending notifications; typically wired to trigger a sync.
	onPending func()

	writeMu sync.Mutex // one frame writer at a time
	mu      sync.Mutex // guards conn and pending
	conn    *websocket.Conn
	pending map[string]chan *syncResponse
}

func NewPushChannel(url, apiKey string, tokens TokenSource, logger *slog.Logger) *PushChannel {
	return &PushChannel{
		url:     url,
		apiKey:  apiKey,
		tokens:  tokens,
		logger:  logger,
		pending: make(map[string]chan *syncResponse),
	}
}

// SetPendingHandler registers the callback for unsolicited pending signals.
// Must be called before Connect.
func (c *PushChannel) SetPendingHandler(fn func()) {
	c.onPending = fn
}

// Connect dials the stream and starts the reader. Callers reconnect by
// calling Connect again after a drop; the channel simply reports unavailable
// in between.
func (c *PushChannel) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)
	if token := c.tokens.AuthToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return NewConnectivityError(fmt.Errorf("dial push stream: %w", err))
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *PushChannel) Name() string { return "push" }

func (c *PushChannel) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears down the stream; in-flight exchanges fail with a connectivity
// error so the manager falls back to REST.
func (c *PushChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *PushChannel) Exchange(ctx context.Context, outbound []notification.Outbound) (*Result, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, NewConnectivityError(fmt.Errorf("push stream not connected"))
	}

	body, err := json.Marshal(syncRequest{ClientNotifications: outbound})
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}
	frame := pushFrame{ID: uuid.New().String(), Type: frameSynchronise, Body: body}

	reply := make(chan *syncResponse, 1)
	c.mu.Lock()
	c.pending[frame.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		return nil, NewConnectivityError(fmt.Errorf("write exchange frame: %w", err))
	}

	// The network imposes no response deadline on an exchange; the caller's
	// context is the only bound.
	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, NewConnectivityError(fmt.Errorf("push stream closed mid-exchange"))
		}
		return resp.toResult(), nil
	case <-ctx.Done():
		return nil, NewConnectivityError(ctx.Err())
	}
}

func (c *PushChannel) readLoop(conn *websocket.Conn) {
	for {
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.logger.Warn("push stream closed", "error", err)
			c.dropConn(conn)
			return
		}

		switch frame.Type {
		case frameSynchroniseResponse:
			var resp syncResponse
			if err := json.Unmarshal(frame.Body, &resp); err != nil {
				c.logger.Error("malformed synchronise response", "id", frame.ID, "error", err)
				continue
			}
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			c.mu.Unlock()
			if ok {
				reply <- &resp
			}
		case frameNotificationPending:
			if c.onPending != nil {
				c.onPending()
			}
		default:
			c.logger.Debug("ignoring push frame", "type", frame.Type)
		}
	}
}

// dropConn marks the channel unavailable and fails waiters after the reader
// exits.
func (c *PushChannel) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	waiters := c.pending
	c.pending = make(map[string]chan *syncResponse)
	c.mu.Unlock()

	conn.Close()
	for _, ch := range waiters {
		close(ch)
	}
}

var _ Channel = (*PushChannel)(nil)
