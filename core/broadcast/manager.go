package broadcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/channel"
	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
	"github.com/veltio/realtime/core/transport"
)

// Manager coordinates channels, transports, and the broker. It owns the
// process-wide connection registry and decides between local delivery and
// remote publish. A Manager is constructed explicitly and passed by
// reference to whatever needs it; there is no ambient singleton.
type Manager struct {
	registry       *channel.Registry
	broker         broker.Broker
	logger         *slog.Logger
	publishTimeout time.Duration
	stopTimeout    time.Duration
	subscriptions  []string

	mu         sync.RWMutex
	transports []transport.Transport
	conns      map[string]managedConn
	started    bool
	closed     bool

	publishWG sync.WaitGroup

	messagesBroadcast atomic.Int64
	messagesPublished atomic.Int64
	publishFailures   atomic.Int64
	localDeliveries   atomic.Int64
}

type managedConn struct {
	conn      *transport.Connection
	transport transport.Transport
}

// Stats provides observability counters for monitoring and tests.
type Stats struct {
	MessagesBroadcast int64
	MessagesPublished int64
	PublishFailures   int64
	LocalDeliveries   int64
	Connections       int
}

// NewManager creates a coordinator over the given channel registry.
//
// Example:
//
//	manager := broadcast.NewManager(
//	    broadcast.WithRegistry(registry),
//	    broadcast.WithBroker(redisBroker),
//	    broadcast.WithLogger(logger),
//	)
//	manager.AttachTransport(ws)
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:       channel.NewRegistry(),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		publishTimeout: 5 * time.Second,
		stopTimeout:    30 * time.Second,
		conns:          make(map[string]managedConn),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Registry exposes the channel registry for authorizer registration.
func (m *Manager) Registry() *channel.Registry { return m.registry }

// AttachTransport registers a transport and hooks its connection lifecycle:
// new connections enter the registry, and disconnects cascade synchronously
// into channel membership cleanup.
func (m *Manager) AttachTransport(t transport.Transport) {
	if t == nil {
		return
	}

	m.mu.Lock()
	m.transports = append(m.transports, t)
	m.mu.Unlock()

	t.OnConnect(func(c *transport.Connection) {
		m.mu.Lock()
		m.conns[c.ID()] = managedConn{conn: c, transport: t}
		m.mu.Unlock()

		m.logger.Debug("connection registered",
			slog.String("connection_id", c.ID()),
			slog.String("user_id", c.UserID()))
	})

	t.OnDisconnect(func(c *transport.Connection) {
		m.cleanupConnection(context.Background(), c)
	})
}

// Connection returns the live connection for an id.
func (m *Manager) Connection(connectionID string) (*transport.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.conns[connectionID]
	if !ok {
		return nil, false
	}
	return mc.conn, true
}

// Subscribe gates and records a connection's membership on a channel. The
// channel's authorization predicate is evaluated exactly once per attempt;
// a connection that is already subscribed is never re-checked. Denials are
// returned to the caller as channel.ErrAuthorizationDenied.
func (m *Manager) Subscribe(ctx context.Context, connectionID, channelName string) error {
	m.mu.RLock()
	mc, ok := m.conns[connectionID]
	m.mu.RUnlock()
	if !ok {
		return transport.ErrConnectionNotFound
	}
	conn := mc.conn

	if conn.Subscribed(channelName) {
		return nil
	}

	if err := m.registry.CheckAccess(ctx, conn, channelName); err != nil {
		m.logger.Info("subscription denied",
			slog.String("connection_id", connectionID),
			slog.String("channel", channelName))
		return err
	}

	ch := m.registry.Get(channelName)
	ch.Add(conn.ID())
	conn.AddChannel(channelName)

	m.logger.Debug("subscribed",
		slog.String("connection_id", connectionID),
		slog.String("channel", channelName))

	if ch.Type() == channel.TypePresence && conn.UserID() != "" {
		if first := ch.JoinPresence(conn.UserID(), conn.Metadata()); first {
			m.emitPresenceEvent(ctx, ch, conn, message.EventMemberJoined)
		}
	}

	return nil
}

// Unsubscribe removes a connection's membership on a channel, emitting
// member.left when a presence user's last connection goes.
func (m *Manager) Unsubscribe(ctx context.Context, connectionID, channelName string) {
	m.mu.RLock()
	mc, ok := m.conns[connectionID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	m.removeMembership(ctx, mc.conn, channelName)
}

func (m *Manager) removeMembership(ctx context.Context, conn *transport.Connection, channelName string) {
	ch, ok := m.registry.Lookup(channelName)
	if !ok {
		conn.RemoveChannel(channelName)
		return
	}

	if !ch.Remove(conn.ID()) {
		conn.RemoveChannel(channelName)
		return
	}
	conn.RemoveChannel(channelName)

	if ch.Type() == channel.TypePresence && conn.UserID() != "" {
		if last := ch.LeavePresence(conn.UserID()); last {
			m.emitPresenceEvent(ctx, ch, conn, message.EventMemberLeft)
		}
	}

	m.registry.Purge(channelName)
}

// cleanupConnection is the disconnect cascade: it runs synchronously from
// the transport's disconnect path so no channel ever retains a dead
// connection.
func (m *Manager) cleanupConnection(ctx context.Context, conn *transport.Connection) {
	for _, name := range conn.Channels() {
		m.removeMembership(ctx, conn, name)
	}

	m.mu.Lock()
	delete(m.conns, conn.ID())
	m.mu.Unlock()

	m.logger.Debug("connection cleaned up", slog.String("connection_id", conn.ID()))
}

// emitPresenceEvent broadcasts a synthetic member.joined/member.left event
// to the channel's other subscribers and to the broker, so remote processes
// observe presence changes too.
func (m *Manager) emitPresenceEvent(ctx context.Context, ch *channel.Channel, conn *transport.Connection, event string) {
	msg := message.New(ch.Name(), event, map[string]any{
		"user_id":  conn.UserID(),
		"metadata": conn.Metadata(),
	})

	m.deliverLocal(ctx, msg, conn.ID())
	m.publish(msg)
}

// Presence returns the members currently present on a channel.
func (m *Manager) Presence(channelName string) []channel.Member {
	ch, ok := m.registry.Lookup(channelName)
	if !ok {
		return nil
	}
	return ch.Presence()
}

// Broadcast delivers the event to every local subscriber of the channel and
// publishes it to the broker when one is configured. Local delivery is
// synchronous; the broker publish is fire-and-forget and its failure never
// aborts local delivery.
func (m *Manager) Broadcast(ctx context.Context, channelName, event string, data map[string]any) error {
	msg := message.New(channelName, event, data)
	m.messagesBroadcast.Add(1)

	if err := m.deliverLocal(ctx, msg, ""); err != nil {
		return err
	}

	m.publish(msg)
	return nil
}

// BroadcastLocal is Broadcast without the broker publish. It exists for the
// consumer loop, which must never republish a message it received from the
// broker.
func (m *Manager) BroadcastLocal(ctx context.Context, channelName, event string, data map[string]any) error {
	msg := message.New(channelName, event, data)
	m.messagesBroadcast.Add(1)
	return m.deliverLocal(ctx, msg, "")
}

// DeliverLocal delivers an already-built message to local subscribers only.
func (m *Manager) DeliverLocal(ctx context.Context, msg message.Message) error {
	return m.deliverLocal(ctx, msg, "")
}

func (m *Manager) deliverLocal(ctx context.Context, msg message.Message, excludeConnID string) error {
	ch, ok := m.registry.Lookup(msg.Channel)
	if !ok {
		return nil
	}

	subscribers := ch.Subscribers()
	if len(subscribers) == 0 {
		return nil
	}

	// Group subscriber ids by their owning transport so each transport gets
	// one broadcast call.
	m.mu.RLock()
	byTransport := make(map[transport.Transport][]string)
	for _, id := range subscribers {
		if id == excludeConnID {
			continue
		}
		if mc, ok := m.conns[id]; ok {
			byTransport[mc.transport] = append(byTransport[mc.transport], id)
		}
	}
	m.mu.RUnlock()

	for t, ids := range byTransport {
		if err := t.Broadcast(ctx, ids, msg); err != nil {
			m.logger.Warn("transport broadcast failed",
				logger.Channel(msg.Channel),
				logger.Error(err))
			continue
		}
		m.localDeliveries.Add(int64(len(ids)))
	}

	return nil
}

// publish sends the message to the broker without blocking the caller. The
// publishing caller stays unaware of broker failures: they are counted and
// logged, nothing more.
func (m *Manager) publish(msg message.Message) {
	if m.broker == nil {
		return
	}

	payload, err := message.Encode(msg)
	if err != nil {
		m.logger.Error("failed to encode message for publish",
			logger.Channel(msg.Channel),
			logger.Error(err))
		return
	}

	m.publishWG.Add(1)
	go func() {
		defer m.publishWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.publishTimeout)
		defer cancel()

		if err := m.broker.Publish(ctx, msg.Channel, payload); err != nil {
			m.publishFailures.Add(1)
			m.logger.Error("broker publish failed",
				logger.Channel(msg.Channel),
				logger.MessageID(msg.ID),
				logger.Error(err))
			return
		}
		m.messagesPublished.Add(1)
	}()
}

// Start wires the broker's inbound side: every configured subscription
// pattern routes arriving payloads into local-only delivery. Without a
// broker or without subscription patterns it is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	if m.broker == nil || len(m.subscriptions) == 0 {
		return nil
	}

	for _, pattern := range m.subscriptions {
		err := m.broker.Subscribe(ctx, pattern, func(payload []byte) {
			msg, err := message.Decode(payload)
			if err != nil {
				m.logger.Error("failed to decode broker payload",
					logger.Error(err))
				return
			}
			// Local-only: republishing here would loop the message forever.
			if err := m.DeliverLocal(ctx, msg); err != nil {
				m.logger.Error("local delivery of broker message failed",
					logger.Channel(msg.Channel),
					logger.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe broker pattern %q: %w", pattern, err)
		}
	}

	m.logger.Info("manager started",
		slog.Int("subscriptions", len(m.subscriptions)))
	return nil
}

// Stop closes every attached transport and waits for in-flight broker
// publishes up to the shutdown timeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	transports := m.transports
	m.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			m.logger.Warn("transport close failed", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.publishWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("manager stopped cleanly")
		return nil
	case <-time.After(m.stopTimeout):
		m.logger.Warn("manager shutdown timeout exceeded - some publishes may be abandoned",
			slog.Duration("timeout", m.stopTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", m.stopTimeout)
	}
}

// BrokerConnected reports broker connectivity for callers that explicitly
// want to inspect it. Broadcast itself never depends on broker health.
func (m *Manager) BrokerConnected() bool {
	return m.broker != nil && m.broker.IsConnected()
}

// Healthcheck returns a readiness check function that fails when a broker is
// configured but unreachable. A broker-less manager is always ready.
func (m *Manager) Healthcheck() func(context.Context) error {
	return func(context.Context) error {
		if m.broker != nil && !m.broker.IsConnected() {
			return broker.ErrBrokerUnavailable
		}
		return nil
	}
}

// Stats returns current manager counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	connections := len(m.conns)
	m.mu.RUnlock()

	return Stats{
		MessagesBroadcast: m.messagesBroadcast.Load(),
		MessagesPublished: m.messagesPublished.Load(),
		PublishFailures:   m.publishFailures.Load(),
		LocalDeliveries:   m.localDeliveries.Load(),
		Connections:       connections,
	}
}
