package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
)

const (
	defaultPingInterval        = 25 * time.Second
	defaultMaxMissedHeartbeats = 3
	defaultWSSendBuffer        = 64
	defaultWSWriteTimeout      = 10 * time.Second
)

// WebSocket is the full-duplex persistent socket transport. Each connection
// runs a read pump (pong frames and client traffic) and a write pump
// (outbound frames plus periodic pings). A connection that misses the
// configured number of consecutive heartbeats is forcibly disconnected.
type WebSocket struct {
	hooks

	upgrader     *websocket.Upgrader
	identity     IdentityFunc
	logger       *slog.Logger
	pingInterval time.Duration
	maxMissed    int
	sendBuffer   int
	writeTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]*wsConn
	closed bool
}

type wsConn struct {
	conn *Connection
	ws   *websocket.Conn
	out  chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWSReadBuffer sets the upgrader's read buffer size.
func WithWSReadBuffer(size int) WebSocketOption {
	return func(t *WebSocket) {
		if size > 0 {
			t.upgrader.ReadBufferSize = size
		}
	}
}

// WithWSWriteBuffer sets the upgrader's write buffer size.
func WithWSWriteBuffer(size int) WebSocketOption {
	return func(t *WebSocket) {
		if size > 0 {
			t.upgrader.WriteBufferSize = size
		}
	}
}

// WithWSOriginCheck sets a custom origin check on the upgrader.
func WithWSOriginCheck(fn func(r *http.Request) bool) WebSocketOption {
	return func(t *WebSocket) {
		if fn != nil {
			t.upgrader.CheckOrigin = fn
		}
	}
}

// WithWSAllowAnyOrigin disables origin checking. Intended for development
// and same-site deployments behind a trusted proxy.
func WithWSAllowAnyOrigin() WebSocketOption {
	return func(t *WebSocket) {
		t.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// WithWSIdentity extracts the user id and metadata for new connections.
func WithWSIdentity(fn IdentityFunc) WebSocketOption {
	return func(t *WebSocket) {
		if fn != nil {
			t.identity = fn
		}
	}
}

// WithWSPingInterval sets the heartbeat ping period.
func WithWSPingInterval(interval time.Duration) WebSocketOption {
	return func(t *WebSocket) {
		if interval > 0 {
			t.pingInterval = interval
		}
	}
}

// WithWSMaxMissedHeartbeats sets how many consecutive unanswered pings a
// connection may miss before it is forcibly disconnected.
func WithWSMaxMissedHeartbeats(n int) WebSocketOption {
	return func(t *WebSocket) {
		if n > 0 {
			t.maxMissed = n
		}
	}
}

// WithWSSendBuffer sets the per-connection outbound frame buffer. A slow
// consumer whose buffer fills up is disconnected rather than allowed to
// block the broadcast path.
func WithWSSendBuffer(size int) WebSocketOption {
	return func(t *WebSocket) {
		if size > 0 {
			t.sendBuffer = size
		}
	}
}

// WithWSLogger configures structured logging for the transport.
func WithWSLogger(logger *slog.Logger) WebSocketOption {
	return func(t *WebSocket) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewWebSocket creates a WebSocket transport.
//
// Example:
//
//	ws := transport.NewWebSocket(
//	    transport.WithWSIdentity(identityFromSession),
//	    transport.WithWSPingInterval(25*time.Second),
//	)
//	mux.Handle("/realtime/ws", ws)
func NewWebSocket(opts ...WebSocketOption) *WebSocket {
	t := &WebSocket{
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		identity:     func(*http.Request) (string, map[string]any) { return "", nil },
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		pingInterval: defaultPingInterval,
		maxMissed:    defaultMaxMissedHeartbeats,
		sendBuffer:   defaultWSSendBuffer,
		writeTimeout: defaultWSWriteTimeout,
		conns:        make(map[string]*wsConn),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (t *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debug("websocket upgrade failed", logger.Error(err))
		return
	}

	userID, metadata := t.identity(r)
	conn := NewConnection(userID, metadata)
	wc := &wsConn{
		conn: conn,
		ws:   ws,
		out:  make(chan []byte, t.sendBuffer),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	t.conns[conn.ID()] = wc
	t.mu.Unlock()

	t.fireConnect(conn)
	t.logger.Debug("websocket connected",
		slog.String("connection_id", conn.ID()),
		slog.String("user_id", userID))

	go t.writePump(wc)
	t.readPump(wc)

	// Disconnect handlers must complete before the connection is released.
	t.mu.Lock()
	delete(t.conns, conn.ID())
	t.mu.Unlock()

	wc.close()
	t.fireDisconnect(conn)
	t.logger.Debug("websocket disconnected", slog.String("connection_id", conn.ID()))
}

// readPump consumes client frames and pong responses. The read deadline is
// the heartbeat budget: pingInterval * maxMissed. Every pong resets it, so a
// client that misses that many consecutive pings times out here.
func (t *WebSocket) readPump(wc *wsConn) {
	heartbeatBudget := t.pingInterval * time.Duration(t.maxMissed)

	_ = wc.ws.SetReadDeadline(time.Now().Add(heartbeatBudget))
	wc.ws.SetPongHandler(func(string) error {
		wc.conn.Touch()
		return wc.ws.SetReadDeadline(time.Now().Add(heartbeatBudget))
	})

	for {
		// Inbound payloads are ignored: subscription management happens on
		// the server-side API, not over the socket.
		if _, _, err := wc.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("websocket read error",
					slog.String("connection_id", wc.conn.ID()),
					logger.Error(err))
			}
			return
		}
		wc.conn.Touch()
	}
}

func (t *WebSocket) writePump(wc *wsConn) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wc.done:
			return
		case <-ticker.C:
			_ = wc.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := wc.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				wc.close()
				return
			}
		case data := <-wc.out:
			_ = wc.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := wc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				wc.close()
				return
			}
		}
	}
}

// Send queues the message for the connection's write pump. A connection
// whose outbound buffer is full is treated as a dead consumer and closed.
func (t *WebSocket) Send(_ context.Context, connectionID string, msg message.Message) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	wc, ok := t.conns[connectionID]
	t.mu.RUnlock()

	if !ok {
		return ErrConnectionNotFound
	}

	data, err := message.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case wc.out <- data:
		return nil
	case <-wc.done:
		return ErrConnectionClosed
	default:
		t.logger.Warn("websocket send buffer full, closing slow consumer",
			slog.String("connection_id", connectionID))
		wc.close()
		return ErrConnectionClosed
	}
}

// Broadcast queues the message for each listed connection, best effort.
func (t *WebSocket) Broadcast(ctx context.Context, connectionIDs []string, msg message.Message) error {
	for _, id := range connectionIDs {
		if err := t.Send(ctx, id, msg); err != nil {
			t.logger.Debug("websocket broadcast skipped connection",
				slog.String("connection_id", id),
				logger.Error(err))
		}
	}
	return nil
}

// Close force-closes every live connection. Disconnect handlers fire from
// the per-connection serve goroutines as their read pumps unwind.
func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*wsConn, 0, len(t.conns))
	for _, wc := range t.conns {
		conns = append(conns, wc)
	}
	t.mu.Unlock()

	for _, wc := range conns {
		wc.close()
	}
	return nil
}

// Len returns the number of live connections.
func (t *WebSocket) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
