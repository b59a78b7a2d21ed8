package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one client's live link to a transport. It is created and
// owned by the transport; destroying it cascades to channel membership
// cleanup via the disconnect handlers.
type Connection struct {
	id       string
	userID   string
	metadata map[string]any

	mu            sync.RWMutex
	channels      map[string]struct{}
	lastHeartbeat time.Time
}

// NewConnection creates a connection with a generated id. The user id is
// optional; anonymous connections pass an empty string.
func NewConnection(userID string, metadata map[string]any) *Connection {
	return &Connection{
		id:            uuid.New().String(),
		userID:        userID,
		metadata:      metadata,
		channels:      make(map[string]struct{}),
		lastHeartbeat: time.Now(),
	}
}

// ID returns the connection id, unique within the process.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user id, or "" for anonymous connections.
func (c *Connection) UserID() string { return c.userID }

// Metadata returns the arbitrary metadata attached at connect time.
func (c *Connection) Metadata() map[string]any { return c.metadata }

// AddChannel records a channel subscription on the connection.
func (c *Connection) AddChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = struct{}{}
}

// RemoveChannel drops a channel subscription from the connection.
func (c *Connection) RemoveChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
}

// Subscribed reports whether the connection is subscribed to the channel.
func (c *Connection) Subscribed(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[name]
	return ok
}

// Channels returns a snapshot of the connection's subscribed channel names.
func (c *Connection) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// Touch records a heartbeat.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the time of the most recent heartbeat.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}
