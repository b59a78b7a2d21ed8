package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/logger"
)

// Broker replicates broadcast messages across processes over Redis pub/sub.
// Delivery is at-most-once with no replay: a subscriber that is down while a
// message is published never sees it. Use the kafka or rabbitmq integrations
// where durability matters.
type Broker struct {
	client      *redis.Client
	prefix      string
	pingTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	pubsub []*redis.PubSub
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithChannelPrefix namespaces the Redis pub/sub channels so several
// deployments can share one Redis instance.
func WithChannelPrefix(prefix string) Option {
	return func(b *Broker) {
		b.prefix = prefix
	}
}

// WithPingTimeout bounds the connectivity probe used by IsConnected.
func WithPingTimeout(timeout time.Duration) Option {
	return func(b *Broker) {
		if timeout > 0 {
			b.pingTimeout = timeout
		}
	}
}

// WithLogger configures structured logging for the broker.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New wraps an established Redis client as a broadcast broker.
func New(client *redis.Client, opts ...Option) *Broker {
	b := &Broker{
		client:      client,
		prefix:      "realtime.",
		pingTimeout: 2 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromConfig connects to Redis and wraps the client as a broker.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	allOpts := append([]Option{
		WithChannelPrefix(cfg.ChannelPrefix),
		WithPingTimeout(cfg.PingTimeout),
	}, opts...)

	return New(client, allOpts...), nil
}

// Publish sends the payload on the prefixed pub/sub channel.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.closed.Load() {
		return broker.ErrBrokerClosed
	}

	if err := b.client.Publish(ctx, b.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish to %q: %w", broker.ErrBrokerUnavailable, channel, err)
	}
	return nil
}

// Subscribe registers the handler for payloads arriving on the channel. Glob
// patterns map onto Redis pattern subscriptions, where any wildcard crosses
// segment boundaries; over-delivery is harmless because the receiving side
// routes by the channel name inside the payload.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	if b.closed.Load() {
		return broker.ErrBrokerClosed
	}

	var ps *redis.PubSub
	if strings.Contains(channel, "*") {
		ps = b.client.PSubscribe(ctx, b.prefix+toRedisPattern(channel))
	} else {
		ps = b.client.Subscribe(ctx, b.prefix+channel)
	}

	// Force the subscription onto the wire before returning so a Publish
	// racing this call is not silently dropped.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("%w: subscribe to %q: %w", broker.ErrBrokerUnavailable, channel, err)
	}

	b.mu.Lock()
	b.pubsub = append(b.pubsub, ps)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ps.Channel() {
			handler([]byte(msg.Payload))
		}
	}()

	return nil
}

// IsConnected reports whether Redis answers a ping within the probe timeout.
func (b *Broker) IsConnected() bool {
	if b.closed.Load() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.pingTimeout)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Close tears down every subscription and releases the client.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	for _, ps := range b.pubsub {
		if err := ps.Close(); err != nil {
			b.logger.Warn("failed to close pubsub", logger.Error(err))
		}
	}
	b.pubsub = nil
	b.mu.Unlock()

	b.wg.Wait()
	return b.client.Close()
}

// toRedisPattern widens channel globs into Redis pub/sub patterns. Redis has
// no segment-bounded wildcard, so both glob forms collapse to '*'.
func toRedisPattern(channel string) string {
	return strings.ReplaceAll(channel, "**", "*")
}
