package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"family-planner-backend/internal/apperrors"
	"family-planner-backend/internal/ws"
)

// Event is a room message as received by a participant.
type Event struct {
	Type      string          `json:"type"`
	SessionID uint            `json:"session_id"`
	UserID    uint            `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Channel is the live connection to a session room.
type Channel interface {
	Connect(ctx context.Context, sessionID uint, h ChannelHandlers) error
	Send(msgType string, data any) error
	Connected() bool
	Close() error
}

// ChannelHandlers are called from the channel's read goroutine.
type ChannelHandlers struct {
	OnConnect    func()
	OnEvent      func(Event)
	OnDisconnect func(err error)
}

// WSChannel dials the coordinator's websocket endpoint and redials with
// backoff until closed.
type WSChannel struct {
	baseURL string
	token   string
	backoff Backoff
	dialer  *websocket.Dialer

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Channel = (*WSChannel)(nil)

// NewWSChannel accepts an http(s) or ws(s) base URL.
func NewWSChannel(baseURL, token string, backoff Backoff) *WSChannel {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &WSChannel{
		baseURL: base,
		token:   token,
		backoff: backoff,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Connect dials once synchronously, then keeps the room open in the
// background. A failed first dial is returned and no loop is started.
func (c *WSChannel) Connect(ctx context.Context, sessionID uint, h ChannelHandlers) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("channel already connected")
	}
	c.mu.Unlock()

	target := c.roomURL(sessionID)
	conn, err := c.dial(ctx, target)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(loopCtx, target, conn, h)
	return nil
}

func (c *WSChannel) roomURL(sessionID uint) string {
	q := url.Values{}
	q.Set("access_token", c.token)
	return fmt.Sprintf("%s/ws/planning-sessions/%d?%s", c.baseURL, sessionID, q.Encode())
}

func (c *WSChannel) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusForbidden:
				return nil, fmt.Errorf("dial room: %w", apperrors.ErrPermissionDenied)
			case http.StatusNotFound:
				return nil, fmt.Errorf("dial room: %w", apperrors.ErrNotFound)
			}
		}
		return nil, fmt.Errorf("dial room: %w: %v", ErrUnreachable, err)
	}
	return conn, nil
}

func (c *WSChannel) run(ctx context.Context, target string, conn *websocket.Conn, h ChannelHandlers) {
	defer close(c.done)

	for {
		c.setConn(conn)
		if h.OnConnect != nil {
			h.OnConnect()
		}
		cur := conn
		stop := context.AfterFunc(ctx, func() { _ = cur.Close() })
		err := c.readLoop(cur, h)
		stop()
		c.setConn(nil)
		if h.OnDisconnect != nil {
			h.OnDisconnect(err)
		}

		conn = c.redial(ctx, target)
		if conn == nil {
			return
		}
	}
}

func (c *WSChannel) readLoop(conn *websocket.Conn, h ChannelHandlers) error {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("client: skipping malformed event", "err", err)
			continue
		}
		if h.OnEvent != nil {
			h.OnEvent(ev)
		}
	}
}

// redial returns nil once ctx is cancelled or the server refuses the room.
func (c *WSChannel) redial(ctx context.Context, target string) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.backoff.Delay(attempt)):
		}
		conn, err := c.dial(ctx, target)
		if err == nil {
			return conn
		}
		if !Retryable(err) {
			slog.Warn("client: room refused, giving up", "err", err)
			return nil
		}
		slog.Debug("client: redial failed", "attempt", attempt+1, "err", err)
	}
}

func (c *WSChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = conn != nil
	c.mu.Unlock()
}

func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes a hint to the room. It fails with ErrChannelDisconnected
// while the channel is down.
func (c *WSChannel) Send(msgType string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apperrors.ErrChannelDisconnected
	}

	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{msgType, data})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrChannelDisconnected, err)
	}
	return nil
}

// Heartbeat tells the room the participant is still there.
func (c *WSChannel) Heartbeat() error {
	return c.Send(ws.HintHeartbeat, nil)
}

// Close stops reconnecting and waits for the read goroutine to exit. It must
// not be called from a ChannelHandlers callback.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}
