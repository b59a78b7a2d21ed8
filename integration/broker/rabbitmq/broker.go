package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/logger"
)

// Broker replicates broadcast messages across processes through a durable
// topic exchange. Routing keys are channel names, which are already
// dot-delimited the way AMQP topic routing expects.
type Broker struct {
	conn   *amqp.Connection
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	ch  *amqp.Channel
	dlq map[string]struct{}

	subMu sync.Mutex
	subs  []*amqp.Channel
	wg    sync.WaitGroup

	closed atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger configures structured logging for the broker.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Connect dials RabbitMQ with retry logic, bounded by cfg.ConnectTimeout.
// The retry interval grows linearly with the attempt number.
func Connect(ctx context.Context, cfg Config) (*amqp.Connection, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	// amqp.Dial ignores the context, so the per-attempt TCP dial is bounded
	// explicitly.
	dialTimeout := 30 * time.Second
	if cfg.ConnectTimeout > 0 && cfg.ConnectTimeout < dialTimeout {
		dialTimeout = cfg.ConnectTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval * time.Duration(attempt)):
		}
	}

	return nil, errors.Join(ErrNotReady, lastErr)
}

// New connects to RabbitMQ and declares the topic exchange.
func New(ctx context.Context, cfg Config, opts ...Option) (*Broker, error) {
	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %w", broker.ErrBrokerUnavailable, err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: declare exchange %q: %w", broker.ErrBrokerUnavailable, cfg.Exchange, err)
	}

	b := &Broker{
		conn:   conn,
		cfg:    cfg,
		ch:     ch,
		dlq:    make(map[string]struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish sends the payload on the exchange with the channel name as routing
// key and persistent delivery mode, so queued messages survive a broker
// restart.
func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.closed.Load() {
		return broker.ErrBrokerClosed
	}

	// amqp channels are not safe for concurrent publishes.
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	}); err != nil {
		return fmt.Errorf("%w: publish %q: %w", broker.ErrBrokerUnavailable, channel, err)
	}
	return nil
}

// PublishDeadLetter forwards a permanently failed payload to a durable queue
// bound to the dead-letter routing key on the same exchange. The queue is
// declared on first use so dead-lettered payloads are never dropped for want
// of a binding.
func (b *Broker) PublishDeadLetter(ctx context.Context, topic, _ string, payload []byte) error {
	if b.closed.Load() {
		return broker.ErrBrokerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.dlq[topic]; !ok {
		if _, err := b.ch.QueueDeclare(b.cfg.QueuePrefix+topic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("%w: declare dead-letter queue %q: %w", broker.ErrBrokerUnavailable, topic, err)
		}
		if err := b.ch.QueueBind(b.cfg.QueuePrefix+topic, topic, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("%w: bind dead-letter queue %q: %w", broker.ErrBrokerUnavailable, topic, err)
		}
		b.dlq[topic] = struct{}{}
	}

	if err := b.ch.PublishWithContext(ctx, b.cfg.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	}); err != nil {
		return fmt.Errorf("%w: dead-letter publish %q: %w", broker.ErrBrokerUnavailable, topic, err)
	}
	return nil
}

// Subscribe registers the handler on an exclusive auto-delete queue bound to
// the channel pattern. This is the live fan-out path: every process gets its
// own queue, so each message reaches every subscribed process.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error {
	if b.closed.Load() {
		return broker.ErrBrokerClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %w", broker.ErrBrokerUnavailable, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: declare queue: %w", broker.ErrBrokerUnavailable, err)
	}

	if err := ch.QueueBind(q.Name, ToBindingKey(channel), b.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: bind %q: %w", broker.ErrBrokerUnavailable, channel, err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: consume %q: %w", broker.ErrBrokerUnavailable, channel, err)
	}

	b.subMu.Lock()
	b.subs = append(b.subs, ch)
	b.subMu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handler(d.Body)
			}
		}
	}()

	return nil
}

// IsConnected reports whether the AMQP connection is up.
func (b *Broker) IsConnected() bool {
	return !b.closed.Load() && !b.conn.IsClosed()
}

// Close tears down every subscription and releases the connection.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.subMu.Lock()
	for _, ch := range b.subs {
		if err := ch.Close(); err != nil {
			b.logger.Warn("failed to close consume channel", logger.Error(err))
		}
	}
	b.subs = nil
	b.subMu.Unlock()

	err := b.conn.Close()
	b.wg.Wait()
	return err
}

// ToBindingKey translates a channel glob into an AMQP topic binding key:
// '*' matches one dot-delimited segment on both sides, and the
// segment-crossing '**' becomes AMQP's '#'.
func ToBindingKey(pattern string) string {
	return strings.ReplaceAll(pattern, "**", "#")
}
