package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/logger"
)

// Source is the consume side of the Kafka integration, implementing the
// consumer loop's Source interface over a consumer-group reader. Each loop
// instance owns exactly one Source; readers are never shared.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
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

// NewSource creates the consume-side Kafka adapter from configuration. The
// reader is created lazily on Subscribe because the topic set comes from the
// loop's resolved channel list.
func NewSource(cfg Config, opts ...SourceOption) *Source {
	s := &Source{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe joins the consumer group on the given topic set. With
// CommitInterval zero the reader commits only what Commit is called with;
// a non-zero interval switches the reader to periodic auto-commit and makes
// explicit Commit calls cheap no-ops on the broker side.
func (s *Source) Subscribe(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.logger.Warn("failed to close previous reader", logger.Error(err))
		}
	}

	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        s.cfg.Brokers,
		GroupID:        s.cfg.GroupID,
		GroupTopics:    topics,
		MinBytes:       s.cfg.MinBytes,
		MaxBytes:       s.cfg.MaxBytes,
		CommitInterval: s.cfg.CommitInterval,
		Dialer:         &kafka.Dialer{Timeout: s.cfg.DialTimeout, DualStack: true},
	})
	return nil
}

// Poll fetches the next message, waiting at most the given timeout. A timeout
// without a message is not an error: Poll returns (nil, nil) and the loop
// decides whether to flush.
func (s *Source) Poll(ctx context.Context, timeout time.Duration) (*broker.Envelope, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	if reader == nil {
		return nil, ErrNotSubscribed
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := reader.FetchMessage(fetchCtx)
	if err != nil {
		// The bounded fetch expiring is the idle case, not a failure. Only
		// propagate cancellation that came from the caller.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: fetch: %w", broker.ErrBrokerUnavailable, err)
	}

	return &broker.Envelope{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Payload:   msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Meta:      msg,
	}, nil
}

// Commit advances the consumer group offset for the envelope's message.
func (s *Source) Commit(ctx context.Context, env *broker.Envelope) error {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	if reader == nil {
		return ErrNotSubscribed
	}

	msg, ok := env.Meta.(kafka.Message)
	if !ok {
		return ErrInvalidMeta
	}

	if err := reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: commit offset %d on %q: %w", broker.ErrBrokerUnavailable, msg.Offset, msg.Topic, err)
	}
	return nil
}

// Close leaves the consumer group and releases the reader.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}
