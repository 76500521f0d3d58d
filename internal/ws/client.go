package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one websocket connection in a session room.
type Client struct {
	id        string
	sessionID uint
	userID    uint
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}

	once   sync.Once
	mu     sync.Mutex
	code   int
	reason string
}

func newClient(id string, sessionID, userID uint, conn *websocket.Conn, queue int) *Client {
	if queue < 1 {
		queue = 1
	}
	return &Client{
		id:        id,
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
	}
}

// closeWith signals the write pump to close the connection. Only the first
// call's code and reason are kept.
func (c *Client) closeWith(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) closeReason() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
