package ws

import (
	"encoding/json"
	"time"
)

// Outbound event types.
const (
	EventPresenceSnapshot = "presence-snapshot"
	EventPartnerJoined    = "partner-joined"
	EventPartnerLeft      = "partner-left"
	EventProgressUpdated  = "progress-updated"
	EventQuadrantChanged  = "quadrant-changed"
	EventItemClaimed      = "item-claimed"
	EventSessionPaused    = "session-paused"
	EventSessionResumed   = "session-resumed"
	EventSessionCompleted = "session-completed"
	EventSessionCancelled = "session-cancelled"
)

// Inbound hints sent by clients. They are advisory and never persisted.
const (
	HintProgressUpdate = "progress-update"
	HintQuadrantUpdate = "quadrant-update"
	HintHeartbeat      = "heartbeat"
)

type WSMessage struct {
	Type      string      `json:"type"`
	SessionID uint        `json:"session_id"`
	UserID    uint        `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

func NewMessage(eventType string, sessionID, userID uint, data interface{}) WSMessage {
	return WSMessage{
		Type:      eventType,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// hintEvents maps client hints onto the event rebroadcast to the room.
var hintEvents = map[string]string{
	HintProgressUpdate: EventProgressUpdated,
	HintQuadrantUpdate: EventQuadrantChanged,
}
