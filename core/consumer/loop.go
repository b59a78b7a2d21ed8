package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/message"
)

// State identifies where the loop currently is in its cycle. Every
// transition is triggered by exactly one of: batch full, flush interval
// elapsed, or shutdown signal.
type State string

const (
	StateIdle         State = "idle"
	StatePolling      State = "polling"
	StateDispatching  State = "dispatching"
	StateCommitting   State = "committing"
	StateShuttingDown State = "shutting_down"
)

// Source is the broker-side consume interface implemented by the kafka and
// rabbitmq integrations. Poll returns (nil, nil) when the bounded timeout
// elapses without a message; it is the only intentionally blocking operation
// in the subsystem, and each loop instance owns exactly one source — sources
// are never shared.
type Source interface {
	Subscribe(ctx context.Context, topics []string) error
	Poll(ctx context.Context, timeout time.Duration) (*broker.Envelope, error)
	Commit(ctx context.Context, env *broker.Envelope) error
	Close() error
}

// DeadLetterer publishes permanently failed payloads to a dead-letter topic.
type DeadLetterer interface {
	PublishDeadLetter(ctx context.Context, topic, key string, payload []byte) error
}

// Handler processes one decoded message, typically the manager's local-only
// delivery path. Handler failures are retried and finally dead-lettered;
// they never terminate the loop.
type Handler func(ctx context.Context, msg message.Message) error

// Stats provides observability counters for monitoring and tests.
type Stats struct {
	Processed      int64
	Failed         int64
	DeadLettered   int64
	Committed      int64
	State          State
	LastActivityAt time.Time
}

// Loop is the long-running worker that turns broker messages back into
// local transport delivery: poll, batch, dispatch, commit, repeat.
type Loop struct {
	source       Source
	handler      Handler
	strategy     broker.Strategy
	deadLetterer DeadLetterer
	logger       *slog.Logger

	channels         []string
	batchSize        int
	flushInterval    time.Duration
	pollTimeout      time.Duration
	maxMessages      int
	commitMode       CommitMode
	maxRetries       int
	retryBackoff     time.Duration
	deadLetter       bool
	deadLetterPrefix string
	shutdownTimeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	state atomic.Value

	processed      atomic.Int64
	failed         atomic.Int64
	deadLettered   atomic.Int64
	committed      atomic.Int64
	lastActivityAt atomic.Int64
}

// NewLoop creates a consumer loop over the given source and handler.
//
// Example:
//
//	loop, err := consumer.NewLoop(source, manager.DeliverLocalHandler(),
//	    consumer.WithChannels("user.*", "public.news"),
//	    consumer.WithStrategy(strategy),
//	    consumer.WithCommitMode(consumer.CommitManual),
//	    consumer.WithDeadLetterer(writer),
//	)
func NewLoop(source Source, handler Handler, opts ...LoopOption) (*Loop, error) {
	if source == nil {
		return nil, ErrSourceNil
	}
	if handler == nil {
		return nil, ErrHandlerNil
	}

	cfg := DefaultConfig()
	l := &Loop{
		source:           source,
		handler:          handler,
		strategy:         broker.PerChannelStrategy{},
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize:        cfg.BatchSize,
		flushInterval:    cfg.FlushInterval,
		pollTimeout:      cfg.PollTimeout,
		commitMode:       cfg.CommitMode,
		maxRetries:       cfg.MaxRetries,
		retryBackoff:     cfg.RetryBackoff,
		deadLetter:       cfg.DeadLetter,
		deadLetterPrefix: cfg.DeadLetterPrefix,
		shutdownTimeout:  cfg.ShutdownTimeout,
	}
	l.state.Store(StateIdle)

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// NewLoopFromConfig creates a Loop from configuration. Additional options
// override config values.
func NewLoopFromConfig(cfg Config, source Source, handler Handler, opts ...LoopOption) (*Loop, error) {
	allOpts := append([]LoopOption{
		WithChannels(cfg.Channels...),
		WithBatchSize(cfg.BatchSize),
		WithFlushInterval(cfg.FlushInterval),
		WithPollTimeout(cfg.PollTimeout),
		WithMaxMessages(cfg.MaxMessages),
		WithCommitMode(cfg.CommitMode),
		WithMaxRetries(cfg.MaxRetries),
		WithRetryBackoff(cfg.RetryBackoff),
		WithDeadLetterEnabled(cfg.DeadLetter),
		WithDeadLetterPrefix(cfg.DeadLetterPrefix),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)

	return NewLoop(source, handler, allOpts...)
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return l.state.Load().(State)
}

func (l *Loop) setState(s State) {
	l.state.Store(s)
}

// Topics resolves the configured channel list to the physical topic set the
// loop subscribes to.
func (l *Loop) Topics() ([]string, error) {
	seen := make(map[string]struct{}, len(l.channels))
	topics := make([]string, 0, len(l.channels))
	for _, ch := range l.channels {
		route, err := l.strategy.Resolve(ch)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve channel %q: %w", ch, err)
		}
		if _, ok := seen[route.Topic]; !ok {
			seen[route.Topic] = struct{}{}
			topics = append(topics, route.Topic)
		}
	}
	return topics, nil
}

// Start runs the loop until the context is cancelled or the configured
// max-messages count is reached. This is a blocking operation; use Run()
// for errgroup pattern or call this in a goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return ErrLoopAlreadyStarted
	}
	if len(l.channels) == 0 {
		l.mu.Unlock()
		return ErrNoChannels
	}
	ctx, l.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	defer close(done)
	defer l.setState(StateShuttingDown)

	topics, err := l.Topics()
	if err != nil {
		return err
	}

	if err := l.source.Subscribe(ctx, topics); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	l.logger.Info("consumer loop started",
		slog.Any("channels", l.channels),
		slog.Any("topics", topics),
		slog.Int("batch_size", l.batchSize),
		slog.Duration("flush_interval", l.flushInterval),
		slog.String("commit_mode", string(l.commitMode)))

	var (
		batch    []*broker.Envelope
		firstAt  time.Time
		received int
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		if ctx.Err() != nil {
			// Cooperative shutdown: finish the in-memory batch, commit, exit.
			l.setState(StateShuttingDown)
			l.logger.Info("consumer loop stopping, draining batch",
				slog.Int("pending", len(batch)))
			flush()
			return ctx.Err()
		}

		l.setState(StatePolling)

		env, err := l.source.Poll(ctx, l.nextPollTimeout(batch, firstAt))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			l.logger.Error("poll failed", logger.Error(err))
			continue
		}

		if env != nil {
			if len(batch) == 0 {
				firstAt = time.Now()
			}
			batch = append(batch, env)
			received++
			l.lastActivityAt.Store(time.Now().Unix())

			// Auto-commit advances the offset on receipt, before dispatch.
			if l.commitMode == CommitAuto {
				if err := l.source.Commit(ctx, env); err != nil {
					l.logger.Error("auto-commit failed",
						logger.Topic(env.Topic),
						logger.Offset(env.Offset),
						logger.Error(err))
				} else {
					l.committed.Add(1)
				}
			}
		}

		// Flush on whichever comes first: the batch-size limit or the flush
		// interval since the batch's first message. A slow trickle is never
		// held indefinitely.
		if len(batch) >= l.batchSize || (len(batch) > 0 && time.Since(firstAt) >= l.flushInterval) {
			flush()
		}

		if l.maxMessages > 0 && received >= l.maxMessages {
			flush()
			l.logger.Info("max messages reached, exiting",
				slog.Int("received", received))
			return nil
		}

		if len(batch) == 0 {
			l.setState(StateIdle)
		}
	}
}

// nextPollTimeout bounds the poll so a partially-filled batch still flushes
// on time: never longer than the remaining flush budget.
func (l *Loop) nextPollTimeout(batch []*broker.Envelope, firstAt time.Time) time.Duration {
	timeout := l.pollTimeout
	if len(batch) > 0 {
		remaining := l.flushInterval - time.Since(firstAt)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if remaining < timeout {
			timeout = remaining
		}
	}
	return timeout
}

// flushBatch dispatches every message in the batch and then commits, per
// message, those that reached a final outcome. One message's failure never
// prevents the remaining messages from being processed, and in manual mode
// a failed-but-not-final message never withholds its successors' commits.
func (l *Loop) flushBatch(batch []*broker.Envelope) {
	// Dispatch is isolated from loop shutdown: an in-flight batch always
	// finishes even when the loop's context is already cancelled.
	ctx := context.Background()

	l.setState(StateDispatching)

	final := make([]bool, len(batch))
	for i, env := range batch {
		final[i] = l.processEnvelope(ctx, env)
	}

	if l.commitMode == CommitManual {
		l.setState(StateCommitting)
		for i, env := range batch {
			if !final[i] {
				continue
			}
			if err := l.source.Commit(ctx, env); err != nil {
				l.logger.Error("commit failed",
					logger.Topic(env.Topic),
					logger.Offset(env.Offset),
					logger.Error(err))
				continue
			}
			l.committed.Add(1)
		}
	}

	l.setState(StateIdle)
	l.lastActivityAt.Store(time.Now().Unix())
}

// processEnvelope drives one message to a final outcome and reports whether
// it reached one. Decode failures are permanently non-retryable and are
// dead-lettered immediately without consuming a retry attempt. Handler
// failures are retried with backoff and dead-lettered once retries are
// exhausted; the original payload is forwarded byte-for-byte unchanged.
func (l *Loop) processEnvelope(ctx context.Context, env *broker.Envelope) bool {
	msg, err := message.Decode(env.Payload)
	if err != nil {
		l.failed.Add(1)
		l.logger.Error("message decode failed, dead-lettering",
			logger.Topic(env.Topic),
			logger.Offset(env.Offset),
			logger.Error(err))
		l.sendToDeadLetter(ctx, env)
		return true
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.retryBackoff
	bo.MaxElapsedTime = 0

	for attempt := 0; ; attempt++ {
		err := l.callHandler(ctx, msg)
		if err == nil {
			l.processed.Add(1)
			return true
		}

		l.failed.Add(1)
		l.logger.Error("handler failed",
			logger.Channel(msg.Channel),
			logger.Event(msg.Event),
			logger.MessageID(msg.ID),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", l.maxRetries),
			logger.Error(err))

		if attempt >= l.maxRetries {
			break
		}
		time.Sleep(bo.NextBackOff())
	}

	l.sendToDeadLetter(ctx, env)
	return true
}

// callHandler isolates handler panics so a single bad message cannot crash
// the loop.
func (l *Loop) callHandler(ctx context.Context, msg message.Message) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return l.handler(ctx, msg)
}

// sendToDeadLetter forwards the unmodified payload to the dead-letter topic
// so the poison message does not permanently stall its partition. With
// dead-lettering disabled the payload is dropped after logging.
func (l *Loop) sendToDeadLetter(ctx context.Context, env *broker.Envelope) {
	if !l.deadLetter || l.deadLetterer == nil {
		l.logger.Warn("dead-lettering disabled, dropping message",
			logger.Topic(env.Topic),
			logger.Offset(env.Offset))
		return
	}

	topic := broker.DeadLetterTopic(l.deadLetterPrefix, env.Topic)
	if err := l.deadLetterer.PublishDeadLetter(ctx, topic, env.Key, env.Payload); err != nil {
		l.logger.Error("dead-letter publish failed",
			logger.Topic(topic),
			logger.Error(err))
		return
	}

	l.deadLettered.Add(1)
	l.logger.Warn("message dead-lettered",
		logger.Topic(topic),
		slog.String("key", env.Key))
}

// Stop signals the loop to shut down and waits for the drain to complete,
// up to the shutdown timeout.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.cancel == nil {
		l.mu.Unlock()
		return ErrLoopNotStarted
	}
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.mu.Unlock()

	cancel()

	select {
	case <-done:
		l.logger.Info("consumer loop stopped cleanly")
		return nil
	case <-time.After(l.shutdownTimeout):
		l.logger.Warn("consumer loop shutdown timeout exceeded",
			slog.Duration("timeout", l.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", l.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the loop, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (l *Loop) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- l.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = l.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns current loop statistics for observability and monitoring.
func (l *Loop) Stats() Stats {
	lastActivity := l.lastActivityAt.Load()
	var lastActivityTime time.Time
	if lastActivity > 0 {
		lastActivityTime = time.Unix(lastActivity, 0)
	}

	return Stats{
		Processed:      l.processed.Load(),
		Failed:         l.failed.Load(),
		DeadLettered:   l.deadLettered.Load(),
		Committed:      l.committed.Load(),
		State:          l.State(),
		LastActivityAt: lastActivityTime,
	}
}
