package channel

import (
	"sync"
	"time"
)

// Type classifies a channel's authorization policy.
type Type string

const (
	// TypePublic channels accept any subscriber without authorization.
	TypePublic Type = "public"
	// TypePrivate channels require a matching authorizer to allow a subscriber.
	TypePrivate Type = "private"
	// TypePresence channels authorize like private channels and additionally
	// track which users are currently subscribed.
	TypePresence Type = "presence"
)

// Member describes one user currently present on a presence channel.
type Member struct {
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	JoinedAt time.Time      `json:"joined_at"`
}

type presenceEntry struct {
	refCount int
	metadata map[string]any
	joinedAt time.Time
}

// Channel is a named topic with a subscriber set and, for presence channels,
// a reference-counted member map. Membership is mutated exclusively by the
// owning Manager in response to connection lifecycle events; the mutex only
// protects concurrent readers.
type Channel struct {
	name string
	typ  Type

	mu          sync.RWMutex
	subscribers map[string]struct{}
	presence    map[string]*presenceEntry
}

func newChannel(name string, typ Type) *Channel {
	c := &Channel{
		name:        name,
		typ:         typ,
		subscribers: make(map[string]struct{}),
	}
	if typ == TypePresence {
		c.presence = make(map[string]*presenceEntry)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Type returns the channel's authorization type.
func (c *Channel) Type() Type { return c.typ }

// Add records a subscriber. It reports whether the connection was newly added.
func (c *Channel) Add(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribers[connID]; ok {
		return false
	}
	c.subscribers[connID] = struct{}{}
	return true
}

// Remove drops a subscriber. It reports whether the connection was subscribed.
func (c *Channel) Remove(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subscribers[connID]; !ok {
		return false
	}
	delete(c.subscribers, connID)
	return true
}

// Has reports whether the connection is currently subscribed.
func (c *Channel) Has(connID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscribers[connID]
	return ok
}

// Subscribers returns a snapshot of subscribed connection ids.
func (c *Channel) Subscribers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.subscribers))
	for id := range c.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of subscribed connections.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// Empty reports whether the channel has no subscribers and no present members.
func (c *Channel) Empty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers) == 0 && len(c.presence) == 0
}

// JoinPresence increments the reference count for a user and reports whether
// this was the user's first connection on the channel. Metadata is captured
// on first join; subsequent joins from additional connections (tabs, devices)
// only bump the count.
func (c *Channel) JoinPresence(userID string, metadata map[string]any) bool {
	if c.typ != TypePresence || userID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.presence[userID]; ok {
		entry.refCount++
		return false
	}

	c.presence[userID] = &presenceEntry{
		refCount: 1,
		metadata: metadata,
		joinedAt: time.Now().UTC(),
	}
	return true
}

// LeavePresence decrements the reference count for a user and reports whether
// this was the user's last connection, removing the member entry when so.
// Leaving a user that is not present is a no-op.
func (c *Channel) LeavePresence(userID string) bool {
	if c.typ != TypePresence || userID == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.presence[userID]
	if !ok {
		return false
	}

	entry.refCount--
	if entry.refCount > 0 {
		return false
	}
	delete(c.presence, userID)
	return true
}

// Presence returns a snapshot of the users currently present on the channel.
// For non-presence channels it returns nil.
func (c *Channel) Presence() []Member {
	if c.typ != TypePresence {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	members := make([]Member, 0, len(c.presence))
	for userID, entry := range c.presence {
		members = append(members, Member{
			UserID:   userID,
			Metadata: entry.metadata,
			JoinedAt: entry.joinedAt,
		})
	}
	return members
}
