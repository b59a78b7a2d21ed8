package kafka

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/veltio/realtime/core/broker"
)

// Writer is the publish side of the Kafka integration. It implements both
// broker.Broker (publish only) and consumer.DeadLetterer. Messages are keyed
// by the route's partition key, so every message for one channel lands on the
// same partition and per-channel ordering survives a shared topic.
type Writer struct {
	w           *kafka.Writer
	strategy    broker.Strategy
	brokers     []string
	dialTimeout time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterLogger configures structured logging for the writer.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWriterStrategy overrides the topic strategy built from the config.
func WithWriterStrategy(s broker.Strategy) WriterOption {
	return func(w *Writer) {
		if s != nil {
			w.strategy = s
		}
	}
}

// NewWriter creates the publish-side Kafka adapter from configuration.
func NewWriter(cfg Config, opts ...WriterOption) (*Writer, error) {
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	w := &Writer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		strategy:    strategy,
		brokers:     cfg.Brokers,
		dialTimeout: cfg.DialTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Publish resolves the channel to its topic and appends the payload to the
// log, keyed by the route's partition key.
func (w *Writer) Publish(ctx context.Context, channel string, payload []byte) error {
	if w.closed.Load() {
		return broker.ErrBrokerClosed
	}

	route, err := w.strategy.Resolve(channel)
	if err != nil {
		return err
	}

	if err := w.w.WriteMessages(ctx, kafka.Message{
		Topic: route.Topic,
		Key:   []byte(route.PartitionKey),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("%w: write to %q: %w", broker.ErrBrokerUnavailable, route.Topic, err)
	}
	return nil
}

// Subscribe is not supported on the log-based broker; consumption goes
// through a consumer loop backed by a Source.
func (w *Writer) Subscribe(context.Context, string, func([]byte)) error {
	return ErrSubscribeNotSupported
}

// PublishDeadLetter forwards a permanently failed payload to the dead-letter
// topic unchanged.
func (w *Writer) PublishDeadLetter(ctx context.Context, topic, key string, payload []byte) error {
	if w.closed.Load() {
		return broker.ErrBrokerClosed
	}

	if err := w.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("%w: dead-letter write to %q: %w", broker.ErrBrokerUnavailable, topic, err)
	}
	return nil
}

// IsConnected probes the first reachable bootstrap broker.
func (w *Writer) IsConnected() bool {
	if w.closed.Load() {
		return false
	}

	dialer := &kafka.Dialer{Timeout: w.dialTimeout, DualStack: true}
	for _, addr := range w.brokers {
		ctx, cancel := context.WithTimeout(context.Background(), w.dialTimeout)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		cancel()
		if err != nil {
			continue
		}
		_ = conn.Close()
		return true
	}
	return false
}

// Close flushes pending batches and releases the writer.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.w.Close()
}
