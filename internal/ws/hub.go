package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"family-planner-backend/internal/events"
	"family-planner-backend/internal/idgen"
	"family-planner-backend/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	SendQueueSize  int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		SendQueueSize:  64,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     25 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

// Hub fans room traffic out to every connection of a session. It keeps no
// authoritative state: a client that misses events reconciles through the
// session API.
type Hub struct {
	cfg        Config
	instanceID string
	presence   *presence.Tracker
	publisher  events.Publisher

	mu       sync.RWMutex
	sessions map[uint]map[string]*Client

	onRemote func(sessionID uint, eventType string)
}

func NewHub(cfg Config, tracker *presence.Tracker, publisher events.Publisher) *Hub {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if tracker == nil {
		tracker = presence.New()
	}
	return &Hub{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		presence:   tracker,
		publisher:  publisher,
		sessions:   make(map[uint]map[string]*Client),
	}
}

// OnRemote registers a callback for events relayed from other instances.
func (h *Hub) OnRemote(fn func(sessionID uint, eventType string)) {
	h.onRemote = fn
}

func (h *Hub) InstanceID() string {
	return h.instanceID
}

func (h *Hub) Presence(sessionID uint) []presence.Entry {
	return h.presence.Roster(sessionID)
}

func (h *Hub) ConnectionCount(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast delivers to every local connection of the session and relays the
// message to other instances. It never blocks on a slow peer.
func (h *Hub) Broadcast(sessionID uint, msg WSMessage) {
	h.broadcastFrom(sessionID, msg, "")
}

func (h *Hub) broadcastFrom(sessionID uint, msg WSMessage, excludeConn string) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws: marshal error", "type", msg.Type, "err", err)
		return
	}
	h.deliver(sessionID, data, excludeConn)
	h.relay(sessionID, data, excludeConn)
}

func (h *Hub) deliver(sessionID uint, data []byte, excludeConn string) {
	var slow []*Client

	h.mu.RLock()
	for id, c := range h.sessions[sessionID] {
		if id == excludeConn {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: send queue full, disconnecting client",
			"session_id", sessionID, "user_id", c.userID, "conn_id", c.id)
		c.closeWith(websocket.CloseTryAgainLater, "send queue full")
	}
}

func (h *Hub) relay(sessionID uint, data []byte, excludeConn string) {
	env := events.Envelope{
		ID:          idgen.MustNew(idgen.EventPrefix),
		Origin:      h.instanceID,
		SessionID:   sessionID,
		ExcludeConn: excludeConn,
		Message:     data,
	}
	if err := h.publisher.Publish(context.Background(), events.SessionTopic(sessionID), env); err != nil {
		slog.Warn("ws: relay publish failed", "session_id", sessionID, "err", err)
	}
}

// StartRelay consumes events published by other instances. The returned
// function stops the subscription.
func (h *Hub) StartRelay(sub events.Subscriber) (func(), error) {
	ch, cancel, err := sub.Subscribe(events.TopicAllSessions)
	if err != nil {
		return nil, err
	}
	go func() {
		for data := range ch {
			h.handleRelayed(data)
		}
	}()
	slog.Info("ws: relay started", "instance_id", h.instanceID)
	return cancel, nil
}

func (h *Hub) handleRelayed(data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("ws: dropping malformed relay envelope", "err", err)
		return
	}
	if env.Origin == h.instanceID {
		return
	}
	h.deliver(env.SessionID, env.Message, env.ExcludeConn)

	if h.onRemote != nil {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(env.Message, &head)
		h.onRemote(env.SessionID, head.Type)
	}
}

// StartReaper closes connections that stop heartbeating.
func (h *Hub) StartReaper(idleTimeout time.Duration) {
	h.presence.StartReaper(&presence.ReaperConfig{
		IdleTimeout: idleTimeout,
		OnIdle: func(sessionID, userID uint, connID string) {
			if !h.kick(sessionID, connID, websocket.CloseGoingAway, "heartbeat timeout") {
				if h.presence.Leave(sessionID, userID, connID) {
					h.announceLeft(sessionID, userID)
				}
			}
		},
	})
}

func (h *Hub) kick(sessionID uint, connID string, code int, reason string) bool {
	h.mu.RLock()
	c, ok := h.sessions[sessionID][connID]
	h.mu.RUnlock()
	if ok {
		c.closeWith(code, reason)
	}
	return ok
}

// Close disconnects every client and stops the reaper.
func (h *Hub) Close() {
	h.mu.RLock()
	for _, conns := range h.sessions {
		for _, c := range conns {
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
		}
	}
	h.mu.RUnlock()
	h.presence.Stop()
}

// ServeConn runs a connection until it closes.
func (h *Hub) ServeConn(conn *websocket.Conn, sessionID, userID uint) {
	c := newClient(idgen.MustNew(idgen.ConnPrefix), sessionID, userID, conn, h.cfg.SendQueueSize)

	h.register(c)
	go h.writePump(c)
	h.readPump(c)
	h.unregister(c)
}

func (h *Hub) register(c *Client) {
	first := h.presence.Join(c.sessionID, c.userID, c.id)
	roster := h.presence.Roster(c.sessionID)

	snapshot, _ := json.Marshal(NewMessage(EventPresenceSnapshot, c.sessionID, c.userID, roster))

	h.mu.Lock()
	if h.sessions[c.sessionID] == nil {
		h.sessions[c.sessionID] = make(map[string]*Client)
	}
	h.sessions[c.sessionID][c.id] = c
	total := len(h.sessions[c.sessionID])
	c.send <- snapshot
	h.mu.Unlock()

	slog.Info("ws: client connected",
		"session_id", c.sessionID, "user_id", c.userID, "conn_id", c.id, "total", total)

	if first {
		h.broadcastFrom(c.sessionID, NewMessage(EventPartnerJoined, c.sessionID, c.userID, map[string]interface{}{
			"user_id":  c.userID,
			"presence": roster,
		}), c.id)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if conns, ok := h.sessions[c.sessionID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	h.mu.Unlock()
	c.closeWith(websocket.CloseNormalClosure, "")

	slog.Info("ws: client disconnected", "session_id", c.sessionID, "user_id", c.userID, "conn_id", c.id)

	if h.presence.Leave(c.sessionID, c.userID, c.id) {
		h.announceLeft(c.sessionID, c.userID)
	}
}

func (h *Hub) announceLeft(sessionID, userID uint) {
	h.Broadcast(sessionID, NewMessage(EventPartnerLeft, sessionID, userID, map[string]interface{}{
		"user_id":  userID,
		"presence": h.presence.Roster(sessionID),
	}))
}

func (h *Hub) readPump(c *Client) {
	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		h.presence.Touch(c.sessionID, c.userID, c.id)
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read error", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		h.presence.Touch(c.sessionID, c.userID, c.id)
		h.handleInbound(c, data)
	}
}

func (h *Hub) handleInbound(c *Client, data []byte) {
	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		slog.Debug("ws: ignoring malformed client message", "conn_id", c.id, "err", err)
		return
	}
	if in.Type == HintHeartbeat {
		return
	}
	eventType, ok := hintEvents[in.Type]
	if !ok {
		slog.Debug("ws: ignoring unknown client message", "conn_id", c.id, "type", in.Type)
		return
	}
	h.broadcastFrom(c.sessionID, NewMessage(eventType, c.sessionID, c.userID, in.Data), c.id)
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			code, reason := c.closeReason()
			if code != websocket.CloseAbnormalClosure {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(h.cfg.WriteWait))
			}
			return
		}
	}
}
