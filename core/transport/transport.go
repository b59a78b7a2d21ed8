package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/veltio/realtime/core/message"
)

// Transport delivers messages to real client connections. One manager may
// host several transports simultaneously (e.g. WebSocket for browsers with
// long-polling as a fallback).
//
// Disconnect handlers run synchronously before the connection is released,
// so channel membership cleanup always completes before the connection id
// can be reused.
type Transport interface {
	// Send delivers one message to one connection.
	Send(ctx context.Context, connectionID string, msg message.Message) error

	// Broadcast delivers one message to many connections, best effort:
	// a failure on one connection does not stop delivery to the rest.
	Broadcast(ctx context.Context, connectionIDs []string, msg message.Message) error

	// OnConnect registers a handler invoked when a connection is established.
	OnConnect(fn func(*Connection))

	// OnDisconnect registers a handler invoked synchronously when a
	// connection is torn down.
	OnDisconnect(fn func(*Connection))

	// Close tears down every live connection and releases resources.
	Close() error
}

// IdentityFunc extracts the user id and metadata for a new connection from
// its HTTP request. HTTP transports default to anonymous connections when
// no identity function is configured.
type IdentityFunc func(r *http.Request) (userID string, metadata map[string]any)

// hooks implements the OnConnect/OnDisconnect half of Transport and is
// embedded by every variant.
type hooks struct {
	mu           sync.RWMutex
	onConnect    []func(*Connection)
	onDisconnect []func(*Connection)
}

func (h *hooks) OnConnect(fn func(*Connection)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

func (h *hooks) OnDisconnect(fn func(*Connection)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

func (h *hooks) fireConnect(c *Connection) {
	h.mu.RLock()
	handlers := h.onConnect
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(c)
	}
}

// fireDisconnect runs the disconnect handlers synchronously. Callers must
// invoke it before removing the connection from their registry.
func (h *hooks) fireDisconnect(c *Connection) {
	h.mu.RLock()
	handlers := h.onDisconnect
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(c)
	}
}
