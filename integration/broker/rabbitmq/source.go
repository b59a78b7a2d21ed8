package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/logger"
)

// Source is the consume side of the RabbitMQ integration, implementing the
// consumer loop's Source interface over a durable shared queue. Every
// consumer in a group reads the same queue, so the broker load-balances
// messages across group members.
type Source struct {
	conn   *amqp.Connection
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger configures structured logging for the source.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSource dials RabbitMQ and prepares the consume side. Each loop instance
// owns exactly one Source with its own connection.
func NewSource(ctx context.Context, cfg Config, opts ...SourceOption) (*Source, error) {
	conn, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Source{
		conn:   conn,
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subscribe declares the group's durable queue and binds it to the
// configured channel patterns, falling back to the given topics when no
// patterns are configured. Consumption uses manual acknowledgement; the loop
// decides when Commit (and therefore Ack) happens.
func (s *Source) Subscribe(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel: %w", broker.ErrBrokerUnavailable, err)
	}

	if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: declare exchange %q: %w", broker.ErrBrokerUnavailable, s.cfg.Exchange, err)
	}

	if s.cfg.Prefetch > 0 {
		if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
			_ = ch.Close()
			return fmt.Errorf("%w: set prefetch: %w", broker.ErrBrokerUnavailable, err)
		}
	}

	queue := s.cfg.QueuePrefix + s.cfg.Group
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: declare queue %q: %w", broker.ErrBrokerUnavailable, queue, err)
	}

	patterns := s.cfg.BindPatterns
	if len(patterns) == 0 {
		patterns = topics
	}
	for _, p := range patterns {
		if err := ch.QueueBind(queue, ToBindingKey(p), s.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("%w: bind %q to %q: %w", broker.ErrBrokerUnavailable, queue, p, err)
		}
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: consume %q: %w", broker.ErrBrokerUnavailable, queue, err)
	}

	if s.ch != nil {
		_ = s.ch.Close()
	}
	s.ch = ch
	s.deliveries = deliveries
	return nil
}

// Poll reads the next delivery, waiting at most the given timeout. A timeout
// without a delivery is not an error: Poll returns (nil, nil).
func (s *Source) Poll(ctx context.Context, timeout time.Duration) (*broker.Envelope, error) {
	s.mu.Lock()
	deliveries := s.deliveries
	s.mu.Unlock()

	if deliveries == nil {
		return nil, ErrNotSubscribed
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("%w: delivery channel closed", broker.ErrBrokerUnavailable)
		}
		return &broker.Envelope{
			Topic:   d.RoutingKey,
			Key:     d.RoutingKey,
			Payload: d.Body,
			Offset:  int64(d.DeliveryTag),
			Meta:    d,
		}, nil
	}
}

// Commit acknowledges the envelope's delivery.
func (s *Source) Commit(_ context.Context, env *broker.Envelope) error {
	d, ok := env.Meta.(amqp.Delivery)
	if !ok {
		return ErrInvalidMeta
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("%w: ack delivery %d: %w", broker.ErrBrokerUnavailable, d.DeliveryTag, err)
	}
	return nil
}

// Close releases the channel and connection. Unacked deliveries are requeued
// by the broker.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Warn("failed to close channel", logger.Error(err))
		}
		s.ch = nil
		s.deliveries = nil
	}
	return s.conn.Close()
}
