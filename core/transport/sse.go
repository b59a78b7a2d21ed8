package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
)

const (
	defaultSSEKeepAlive  = 30 * time.Second
	defaultSSESendBuffer = 64
	defaultSSEReplaySize = 256
)

// SSE is the HTTP streaming transport: server-to-client only, with periodic
// keep-alive comment frames. Clients resume from their last-seen message id
// by sending the standard Last-Event-ID request header; resumption replays
// from a bounded in-memory ring, so only recent history is recoverable.
type SSE struct {
	hooks

	identity   IdentityFunc
	logger     *slog.Logger
	keepAlive  time.Duration
	sendBuffer int

	mu     sync.RWMutex
	conns  map[string]*sseConn
	closed bool

	replayMu   sync.RWMutex
	replay     []message.Message
	replaySize int
}

type sseConn struct {
	conn *Connection
	ch   chan message.Message

	closeOnce sync.Once
	done      chan struct{}
}

func (c *sseConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// SSEOption configures an SSE transport.
type SSEOption func(*SSE)

// WithSSEIdentity extracts the user id and metadata for new connections.
func WithSSEIdentity(fn IdentityFunc) SSEOption {
	return func(t *SSE) {
		if fn != nil {
			t.identity = fn
		}
	}
}

// WithSSEKeepAlive sets the keep-alive comment frame interval.
func WithSSEKeepAlive(interval time.Duration) SSEOption {
	return func(t *SSE) {
		if interval > 0 {
			t.keepAlive = interval
		}
	}
}

// WithSSESendBuffer sets the per-connection outbound buffer. A connection
// whose buffer fills up is disconnected rather than allowed to block the
// broadcast path.
func WithSSESendBuffer(size int) SSEOption {
	return func(t *SSE) {
		if size > 0 {
			t.sendBuffer = size
		}
	}
}

// WithSSEReplaySize bounds the in-memory ring used for Last-Event-ID
// resumption.
func WithSSEReplaySize(size int) SSEOption {
	return func(t *SSE) {
		if size > 0 {
			t.replaySize = size
		}
	}
}

// WithSSELogger configures structured logging for the transport.
func WithSSELogger(logger *slog.Logger) SSEOption {
	return func(t *SSE) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewSSE creates a server-sent-events transport.
func NewSSE(opts ...SSEOption) *SSE {
	t := &SSE{
		identity:   func(*http.Request) (string, map[string]any) { return "", nil },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		keepAlive:  defaultSSEKeepAlive,
		sendBuffer: defaultSSESendBuffer,
		conns:      make(map[string]*sseConn),
		replaySize: defaultSSEReplaySize,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// ServeHTTP holds the request open and streams events until the client
// disconnects or the transport closes.
func (t *SSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	userID, metadata := t.identity(r)
	conn := NewConnection(userID, metadata)
	sc := &sseConn{
		conn: conn,
		ch:   make(chan message.Message, t.sendBuffer),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[conn.ID()] = sc
	t.mu.Unlock()

	t.fireConnect(conn)

	_, _ = fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		for _, msg := range t.replayAfter(lastID) {
			if conn.Subscribed(msg.Channel) {
				t.writeEvent(w, msg)
			}
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.disconnect(sc)
			return

		case <-sc.done:
			t.disconnect(sc)
			return

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				t.disconnect(sc)
				return
			}
			flusher.Flush()

		case msg := <-sc.ch:
			t.writeEvent(w, msg)
			flusher.Flush()
			ticker.Reset(t.keepAlive)
		}
	}
}

func (t *SSE) writeEvent(w io.Writer, msg message.Message) {
	data, err := message.Encode(msg)
	if err != nil {
		t.logger.Error("failed to encode sse event", logger.Error(err))
		return
	}

	if msg.ID != "" {
		_, _ = fmt.Fprintf(w, "id: %s\n", msg.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
}

func (t *SSE) disconnect(sc *sseConn) {
	t.mu.Lock()
	_, ok := t.conns[sc.conn.ID()]
	if ok {
		delete(t.conns, sc.conn.ID())
	}
	t.mu.Unlock()

	sc.close()
	if ok {
		t.fireDisconnect(sc.conn)
	}
}

// Send queues the message for the connection's stream and records it in the
// replay ring.
func (t *SSE) Send(_ context.Context, connectionID string, msg message.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	sc, ok := t.conns[connectionID]
	t.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}

	t.record(msg)

	select {
	case sc.ch <- msg:
		return nil
	case <-sc.done:
		return ErrConnectionClosed
	default:
		t.logger.Warn("sse send buffer full, closing slow consumer",
			slog.String("connection_id", connectionID))
		sc.close()
		return ErrConnectionClosed
	}
}

// Broadcast queues the message for each listed connection, best effort.
// The message enters the replay ring once, not once per connection.
func (t *SSE) Broadcast(_ context.Context, connectionIDs []string, msg message.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	targets := make([]*sseConn, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if sc, ok := t.conns[id]; ok {
			targets = append(targets, sc)
		}
	}
	t.mu.RUnlock()

	t.record(msg)

	for _, sc := range targets {
		select {
		case sc.ch <- msg:
		case <-sc.done:
		default:
			t.logger.Warn("sse send buffer full, closing slow consumer",
				slog.String("connection_id", sc.conn.ID()))
			sc.close()
		}
	}
	return nil
}

func (t *SSE) record(msg message.Message) {
	if msg.ID == "" {
		return
	}

	t.replayMu.Lock()
	defer t.replayMu.Unlock()

	t.replay = append(t.replay, msg)
	if len(t.replay) > t.replaySize {
		t.replay = t.replay[len(t.replay)-t.replaySize:]
	}
}

// replayAfter returns the recorded messages after the given id. An unknown
// id (already evicted from the ring) yields nothing: the client starts fresh.
func (t *SSE) replayAfter(lastID string) []message.Message {
	t.replayMu.RLock()
	defer t.replayMu.RUnlock()

	for i, msg := range t.replay {
		if msg.ID == lastID {
			out := make([]message.Message, len(t.replay)-i-1)
			copy(out, t.replay[i+1:])
			return out
		}
	}
	return nil
}

// Close force-closes every live connection.
func (t *SSE) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*sseConn, 0, len(t.conns))
	for _, sc := range t.conns {
		conns = append(conns, sc)
	}
	t.mu.Unlock()

	for _, sc := range conns {
		sc.close()
	}
	return nil
}

// Len returns the number of live connections.
func (t *SSE) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
