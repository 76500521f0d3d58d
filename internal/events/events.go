// Package events relays session room traffic between coordinator instances.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	topicPrefix = "planner.sessions."
	// TopicAllSessions matches every session subject.
	TopicAllSessions = topicPrefix + ">"
)

func SessionTopic(sessionID uint) string {
	return topicPrefix + strconv.FormatUint(uint64(sessionID), 10)
}

func SessionIDFromTopic(topic string) (uint, error) {
	raw, ok := strings.CutPrefix(topic, topicPrefix)
	if !ok {
		return 0, fmt.Errorf("topic %q is not a session topic", topic)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("topic %q: %w", topic, err)
	}
	return uint(id), nil
}

// Envelope wraps a room message so receivers can skip their own traffic.
// ExcludeConn names the originating connection, which already has the message.
type Envelope struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin"`
	SessionID   uint            `json:"session_id"`
	ExcludeConn string          `json:"exclude_conn,omitempty"`
	Message     json.RawMessage `json:"message"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}
