package message

import (
	"time"

	"github.com/google/uuid"
)

// Synthetic event names emitted by presence channels.
const (
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)

// Message is the unit of broadcast: one named event on one channel.
// A Message is immutable once constructed; it is produced by a caller
// and consumed by zero or more transports and at most one broker publish.
type Message struct {
	Channel   string         `json:"channel"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// New creates a Message with a generated ID and UTC timestamp.
//
// Example:
//
//	msg := message.New("public.news", "announcement", map[string]any{"title": "Maintenance"})
func New(channel, event string, data map[string]any) Message {
	return Message{
		Channel:   channel,
		Event:     event,
		Data:      data,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}
