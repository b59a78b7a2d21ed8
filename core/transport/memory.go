package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
)

// Memory is the in-process transport: delivery is a direct callback
// invocation with no network in between. It serves single-process
// deployments and tests.
type Memory struct {
	hooks

	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*memoryConn
	closed bool
}

type memoryConn struct {
	conn *Connection
	sink func(message.Message)
}

// MemoryOption configures a Memory transport.
type MemoryOption func(*Memory)

// WithMemoryLogger configures structured logging for the transport.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(t *Memory) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewMemory creates an in-process transport.
func NewMemory(opts ...MemoryOption) *Memory {
	t := &Memory{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		conns:  make(map[string]*memoryConn),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Connect creates a connection whose deliveries invoke sink inline.
func (t *Memory) Connect(userID string, metadata map[string]any, sink func(message.Message)) (*Connection, error) {
	if sink == nil {
		sink = func(message.Message) {}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}

	conn := NewConnection(userID, metadata)
	t.conns[conn.ID()] = &memoryConn{conn: conn, sink: sink}
	t.mu.Unlock()

	t.fireConnect(conn)
	return conn, nil
}

// Disconnect tears down one connection, running disconnect handlers
// synchronously before the connection is released.
func (t *Memory) Disconnect(connectionID string) {
	t.mu.Lock()
	mc, ok := t.conns[connectionID]
	if ok {
		delete(t.conns, connectionID)
	}
	t.mu.Unlock()

	if ok {
		t.fireDisconnect(mc.conn)
	}
}

// Send delivers the message to the connection's sink inline.
func (t *Memory) Send(_ context.Context, connectionID string, msg message.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	mc, ok := t.conns[connectionID]
	t.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}

	mc.sink(msg)
	return nil
}

// Broadcast delivers the message to each listed connection, best effort.
func (t *Memory) Broadcast(ctx context.Context, connectionIDs []string, msg message.Message) error {
	for _, id := range connectionIDs {
		if err := t.Send(ctx, id, msg); err != nil {
			t.logger.Debug("memory broadcast skipped connection",
				slog.String("connection_id", id),
				logger.Error(err))
		}
	}
	return nil
}

// Close disconnects every connection and rejects further use.
func (t *Memory) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*Connection, 0, len(t.conns))
	for _, mc := range t.conns {
		conns = append(conns, mc.conn)
	}
	t.conns = make(map[string]*memoryConn)
	t.mu.Unlock()

	for _, conn := range conns {
		t.fireDisconnect(conn)
	}
	return nil
}

// Len returns the number of live connections.
func (t *Memory) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
