package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
)

const (
	defaultPollTimeout    = 25 * time.Second
	defaultIdleTimeout    = 2 * time.Minute
	defaultPollBufferSize = 128
	defaultPurgeInterval  = 30 * time.Second
)

// LongPoll is the stateless HTTP fallback transport. The first request
// (without a connection_id parameter) establishes a connection and returns
// its id; subsequent requests drain buffered messages or hold the request
// open up to the poll timeout before returning an empty batch. Connections
// idle past the idle threshold are purged by a janitor goroutine.
type LongPoll struct {
	hooks

	identity    IdentityFunc
	logger      *slog.Logger
	pollTimeout time.Duration
	idleTimeout time.Duration
	bufferSize  int

	mu     sync.RWMutex
	conns  map[string]*pollConn
	closed bool

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

type pollConn struct {
	conn *Connection

	mu     sync.Mutex
	buf    []message.Message
	notify chan struct{}
}

func (c *pollConn) push(msg message.Message, limit int) {
	c.mu.Lock()
	c.buf = append(c.buf, msg)
	if len(c.buf) > limit {
		c.buf = c.buf[len(c.buf)-limit:]
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *pollConn) drain() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil
	}
	out := c.buf
	c.buf = nil
	return out
}

// LongPollOption configures a LongPoll transport.
type LongPollOption func(*LongPoll)

// WithPollIdentity extracts the user id and metadata for new connections.
func WithPollIdentity(fn IdentityFunc) LongPollOption {
	return func(t *LongPoll) {
		if fn != nil {
			t.identity = fn
		}
	}
}

// WithPollTimeout bounds how long a poll request is held open.
func WithPollTimeout(timeout time.Duration) LongPollOption {
	return func(t *LongPoll) {
		if timeout > 0 {
			t.pollTimeout = timeout
		}
	}
}

// WithPollIdleTimeout sets the idle threshold after which a connection that
// stopped polling is purged.
func WithPollIdleTimeout(timeout time.Duration) LongPollOption {
	return func(t *LongPoll) {
		if timeout > 0 {
			t.idleTimeout = timeout
		}
	}
}

// WithPollBufferSize bounds the per-connection message buffer; the oldest
// messages are dropped once the bound is exceeded.
func WithPollBufferSize(size int) LongPollOption {
	return func(t *LongPoll) {
		if size > 0 {
			t.bufferSize = size
		}
	}
}

// WithPollLogger configures structured logging for the transport.
func WithPollLogger(logger *slog.Logger) LongPollOption {
	return func(t *LongPoll) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewLongPoll creates a long-polling transport and starts its idle janitor.
func NewLongPoll(opts ...LongPollOption) *LongPoll {
	t := &LongPoll{
		identity:    func(*http.Request) (string, map[string]any) { return "", nil },
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollTimeout: defaultPollTimeout,
		idleTimeout: defaultIdleTimeout,
		bufferSize:  defaultPollBufferSize,
		conns:       make(map[string]*pollConn),
		stopJanitor: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	go t.janitor()

	return t
}

type pollResponse struct {
	ConnectionID string            `json:"connection_id,omitempty"`
	Messages     []message.Message `json:"messages"`
}

// ServeHTTP establishes a connection on the first request and serves bounded
// polls on subsequent ones.
func (t *LongPoll) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}

	connID := r.URL.Query().Get("connection_id")
	if connID == "" {
		t.handleConnect(w, r)
		return
	}

	t.mu.RLock()
	pc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		http.Error(w, "connection not found", http.StatusNotFound)
		return
	}

	pc.conn.Touch()

	if msgs := pc.drain(); msgs != nil {
		writeJSON(w, pollResponse{Messages: msgs})
		return
	}

	// Hold the request open until a message arrives or the timeout elapses.
	// The wait is bounded; an empty batch is a normal response.
	timer := time.NewTimer(t.pollTimeout)
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		return
	case <-timer.C:
	case <-pc.notify:
	}

	pc.conn.Touch()
	msgs := pc.drain()
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, pollResponse{Messages: msgs})
}

func (t *LongPoll) handleConnect(w http.ResponseWriter, r *http.Request) {
	userID, metadata := t.identity(r)
	conn := NewConnection(userID, metadata)
	pc := &pollConn{
		conn:   conn,
		notify: make(chan struct{}, 1),
	}

	t.mu.Lock()
	t.conns[conn.ID()] = pc
	t.mu.Unlock()

	t.fireConnect(conn)
	t.logger.Debug("longpoll connected",
		slog.String("connection_id", conn.ID()),
		slog.String("user_id", userID))

	writeJSON(w, pollResponse{ConnectionID: conn.ID(), Messages: []message.Message{}})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Send buffers the message for the connection's next poll.
func (t *LongPoll) Send(_ context.Context, connectionID string, msg message.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	pc, ok := t.conns[connectionID]
	t.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}

	pc.push(msg, t.bufferSize)
	return nil
}

// Broadcast buffers the message for each listed connection, best effort.
func (t *LongPoll) Broadcast(ctx context.Context, connectionIDs []string, msg message.Message) error {
	for _, id := range connectionIDs {
		if err := t.Send(ctx, id, msg); err != nil {
			t.logger.Debug("longpoll broadcast skipped connection",
				slog.String("connection_id", id),
				logger.Error(err))
		}
	}
	return nil
}

// Disconnect removes one connection, running disconnect handlers
// synchronously before the connection is released.
func (t *LongPoll) Disconnect(connectionID string) {
	t.mu.Lock()
	pc, ok := t.conns[connectionID]
	if ok {
		delete(t.conns, connectionID)
	}
	t.mu.Unlock()

	if ok {
		t.fireDisconnect(pc.conn)
	}
}

func (t *LongPoll) janitor() {
	// Short idle thresholds need proportionally frequent sweeps.
	interval := t.idleTimeout / 2
	if interval > defaultPurgeInterval {
		interval = defaultPurgeInterval
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopJanitor:
			return
		case <-ticker.C:
			t.purgeIdle()
		}
	}
}

func (t *LongPoll) purgeIdle() {
	cutoff := time.Now().Add(-t.idleTimeout)

	t.mu.Lock()
	var stale []*pollConn
	for id, pc := range t.conns {
		if pc.conn.LastHeartbeat().Before(cutoff) {
			delete(t.conns, id)
			stale = append(stale, pc)
		}
	}
	t.mu.Unlock()

	for _, pc := range stale {
		t.logger.Debug("purging idle longpoll connection",
			slog.String("connection_id", pc.conn.ID()))
		t.fireDisconnect(pc.conn)
	}
}

// Close disconnects every connection and stops the janitor.
func (t *LongPoll) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*pollConn, 0, len(t.conns))
	for _, pc := range t.conns {
		conns = append(conns, pc)
	}
	t.conns = make(map[string]*pollConn)
	t.mu.Unlock()

	t.janitorOnce.Do(func() { close(t.stopJanitor) })

	for _, pc := range conns {
		t.fireDisconnect(pc.conn)
	}
	return nil
}

// Len returns the number of live connections.
func (t *LongPoll) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
