package consumer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/consumer"
	"github.com/veltio/realtime/core/message"
)

// fakeSource serves a scripted queue of envelopes and records commits.
type fakeSource struct {
	mu         sync.Mutex
	queue      []*broker.Envelope
	subscribed []string
	commits    []*broker.Envelope
}

func (s *fakeSource) push(envs ...*broker.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, envs...)
}

func (s *fakeSource) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *fakeSource) committed() []*broker.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*broker.Envelope, len(s.commits))
	copy(out, s.commits)
	return out
}

func (s *fakeSource) Subscribe(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = topics
	return nil
}

func (s *fakeSource) Poll(ctx context.Context, timeout time.Duration) (*broker.Envelope, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		env := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return env, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *fakeSource) Commit(_ context.Context, env *broker.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, env)
	return nil
}

func (s *fakeSource) Close() error { return nil }

// fakeDLQ records dead-letter publishes.
type fakeDLQ struct {
	mu      sync.Mutex
	topics  []string
	payload [][]byte
}

func (d *fakeDLQ) PublishDeadLetter(_ context.Context, topic, _ string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	d.payload = append(d.payload, payload)
	return nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.topics)
}

func encodedMessage(t *testing.T, ch, event string) []byte {
	t.Helper()
	payload, err := message.Encode(message.New(ch, event, nil))
	require.NoError(t, err)
	return payload
}

func envelopeFor(t *testing.T, ch, event string) *broker.Envelope {
	t.Helper()
	return &broker.Envelope{
		Topic:   "events",
		Key:     ch,
		Payload: encodedMessage(t, ch, event),
	}
}

func TestNewLoop_Validation(t *testing.T) {
	t.Parallel()

	handler := func(context.Context, message.Message) error { return nil }

	_, err := consumer.NewLoop(nil, handler)
	require.ErrorIs(t, err, consumer.ErrSourceNil)

	_, err = consumer.NewLoop(&fakeSource{}, nil)
	require.ErrorIs(t, err, consumer.ErrHandlerNil)

	loop, err := consumer.NewLoop(&fakeSource{}, handler)
	require.NoError(t, err)
	require.ErrorIs(t, loop.Start(context.Background()), consumer.ErrNoChannels)
	assert.Equal(t, consumer.StateIdle, loop.State())
}

func TestLoop_TopicsResolution(t *testing.T) {
	t.Parallel()

	strategy, err := broker.NewGroupedStrategy("events", 8,
		broker.GroupRule{Pattern: "user.*", Topic: "user-events", Partitions: 16},
	)
	require.NoError(t, err)

	loop, err := consumer.NewLoop(&fakeSource{},
		func(context.Context, message.Message) error { return nil },
		consumer.WithChannels("user.7", "user.8", "orders.1"),
		consumer.WithStrategy(strategy),
	)
	require.NoError(t, err)

	topics, err := loop.Topics()
	require.NoError(t, err)
	assert.Equal(t, []string{"user-events", "events"}, topics,
		"duplicate topics collapse, order follows the channel list")
}

func TestLoop_FlushesOnIntervalNotBatchSize(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	for range 10 {
		src.push(envelopeFor(t, "public.news", "ev"))
	}

	var processed atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { processed.Add(1); return nil },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(50),
		consumer.WithFlushInterval(100*time.Millisecond),
		consumer.WithPollTimeout(10*time.Millisecond),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	// Ten messages never fill a batch of fifty; the interval flushes them.
	require.Eventually(t, func() bool { return processed.Load() == 10 },
		2*time.Second, 5*time.Millisecond,
		"partially-filled batch must flush at the interval boundary")
}

func TestLoop_FlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	for range 6 {
		src.push(envelopeFor(t, "public.news", "ev"))
	}

	var processed atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { processed.Add(1); return nil },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(3),
		consumer.WithFlushInterval(10*time.Second),
		consumer.WithPollTimeout(10*time.Millisecond),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	require.Eventually(t, func() bool { return processed.Load() == 6 },
		2*time.Second, 5*time.Millisecond)
}

func TestLoop_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	env := envelopeFor(t, "public.news", "poison")
	original := make([]byte, len(env.Payload))
	copy(original, env.Payload)

	src := &fakeSource{}
	src.push(env)
	dlq := &fakeDLQ{}

	var attempts atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error {
			attempts.Add(1)
			return errors.New("handler always fails")
		},
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(1),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithMaxRetries(2),
		consumer.WithRetryBackoff(time.Millisecond),
		consumer.WithDeadLetterer(dlq),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	require.Eventually(t, func() bool { return dlq.count() == 1 },
		2*time.Second, 5*time.Millisecond)

	// One initial attempt plus exactly maxRetries retries.
	assert.Equal(t, int64(3), attempts.Load())

	dlq.mu.Lock()
	assert.Equal(t, "dlq.events", dlq.topics[0])
	assert.Equal(t, original, dlq.payload[0], "dead-lettered payload must be byte-for-byte unchanged")
	dlq.mu.Unlock()

	// The offset still advances so the poison message cannot stall the partition.
	require.Eventually(t, func() bool { return len(src.committed()) == 1 },
		2*time.Second, 5*time.Millisecond)

	stats := loop.Stats()
	assert.Equal(t, int64(1), stats.DeadLettered)
	assert.Equal(t, int64(0), stats.Processed)
}

func TestLoop_DecodeErrorDeadLettersWithoutRetry(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.push(&broker.Envelope{Topic: "events", Key: "k", Payload: []byte("{malformed")})
	dlq := &fakeDLQ{}

	var handlerCalls atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { handlerCalls.Add(1); return nil },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(1),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithDeadLetterer(dlq),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	require.Eventually(t, func() bool { return dlq.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), handlerCalls.Load(),
		"malformed payloads are non-retryable and never reach the handler")
}

func TestLoop_PartialBatchFailureCommitsIndependently(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.push(
		envelopeFor(t, "public.news", "ok-1"),
		envelopeFor(t, "public.news", "fail"),
		envelopeFor(t, "public.news", "ok-2"),
	)
	dlq := &fakeDLQ{}

	loop, err := consumer.NewLoop(src,
		func(_ context.Context, msg message.Message) error {
			if msg.Event == "fail" {
				return errors.New("boom")
			}
			return nil
		},
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(3),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithMaxRetries(1),
		consumer.WithRetryBackoff(time.Millisecond),
		consumer.WithDeadLetterer(dlq),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	// Every message reaches a final outcome: two succeed, one dead-letters.
	// All three offsets advance; the failure never withholds its neighbors.
	require.Eventually(t, func() bool { return len(src.committed()) == 3 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dlq.count())

	stats := loop.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.DeadLettered)
}

func TestLoop_AutoCommitAdvancesOnReceipt(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.push(envelopeFor(t, "public.news", "fail"))
	dlq := &fakeDLQ{}

	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { return errors.New("boom") },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(1),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithCommitMode(consumer.CommitAuto),
		consumer.WithMaxRetries(0),
		consumer.WithDeadLetterer(dlq),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	// Auto mode commits on receipt, before the handler runs at all.
	require.Eventually(t, func() bool { return len(src.committed()) == 1 },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return dlq.count() == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Len(t, src.committed(), 1, "dead-lettering must not commit again in auto mode")
}

func TestLoop_MaxMessagesExits(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	for range 5 {
		src.push(envelopeFor(t, "public.news", "ev"))
	}

	var processed atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { processed.Add(1); return nil },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(10),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithMaxMessages(3),
	)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Start(context.Background()) }()

	select {
	case err := <-errCh:
		require.NoError(t, err, "reaching max messages is a normal exit")
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit at max messages")
	}

	assert.Equal(t, int64(3), processed.Load())
	assert.Equal(t, 2, src.pending())
}

func TestLoop_ShutdownDrainsPendingBatch(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	for range 5 {
		src.push(envelopeFor(t, "public.news", "ev"))
	}

	var processed atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(context.Context, message.Message) error { processed.Add(1); return nil },
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(50),
		consumer.WithFlushInterval(10*time.Second),
		consumer.WithPollTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()

	// Wait until every envelope was polled into the in-memory batch.
	require.Eventually(t, func() bool { return src.pending() == 0 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	// The batch is far from full and the interval is far away: only the
	// shutdown drain can flush it.
	require.NoError(t, loop.Stop())
	assert.Equal(t, int64(5), processed.Load())
	assert.Len(t, src.committed(), 5)
	assert.Equal(t, consumer.StateShuttingDown, loop.State())

	require.ErrorIs(t, loop.Stop(), consumer.ErrLoopNotStarted)
}

func TestLoop_HandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	src.push(
		envelopeFor(t, "public.news", "panics"),
		envelopeFor(t, "public.news", "fine"),
	)
	dlq := &fakeDLQ{}

	var processed atomic.Int64
	loop, err := consumer.NewLoop(src,
		func(_ context.Context, msg message.Message) error {
			if msg.Event == "panics" {
				panic("boom")
			}
			processed.Add(1)
			return nil
		},
		consumer.WithChannels("public.news"),
		consumer.WithBatchSize(2),
		consumer.WithPollTimeout(10*time.Millisecond),
		consumer.WithMaxRetries(0),
		consumer.WithDeadLetterer(dlq),
	)
	require.NoError(t, err)

	go func() { _ = loop.Start(context.Background()) }()
	defer loop.Stop() //nolint:errcheck

	require.Eventually(t, func() bool { return processed.Load() == 1 && dlq.count() == 1 },
		2*time.Second, 5*time.Millisecond,
		"a panicking handler dead-letters its message and never takes down the batch")
}
