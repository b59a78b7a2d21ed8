package consumer

import (
	"log/slog"
	"time"

	"github.com/veltio/realtime/core/broker"
)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithChannels sets the channel list the loop consumes.
func WithChannels(channels ...string) LoopOption {
	return func(l *Loop) {
		for _, ch := range channels {
			if ch != "" {
				l.channels = append(l.channels, ch)
			}
		}
	}
}

// WithStrategy sets the topic strategy resolving channels to physical
// topics. Default is a per-channel strategy with no prefix.
func WithStrategy(s broker.Strategy) LoopOption {
	return func(l *Loop) {
		if s != nil {
			l.strategy = s
		}
	}
}

// WithBatchSize sets the batch-size flush limit.
func WithBatchSize(size int) LoopOption {
	return func(l *Loop) {
		if size > 0 {
			l.batchSize = size
		}
	}
}

// WithFlushInterval sets the maximum time a partially-filled batch waits
// since its first message before being flushed.
func WithFlushInterval(interval time.Duration) LoopOption {
	return func(l *Loop) {
		if interval > 0 {
			l.flushInterval = interval
		}
	}
}

// WithPollTimeout bounds each poll; the loop never blocks indefinitely.
func WithPollTimeout(timeout time.Duration) LoopOption {
	return func(l *Loop) {
		if timeout > 0 {
			l.pollTimeout = timeout
		}
	}
}

// WithMaxMessages makes the loop exit after receiving n messages.
// Zero means unlimited.
func WithMaxMessages(n int) LoopOption {
	return func(l *Loop) {
		if n >= 0 {
			l.maxMessages = n
		}
	}
}

// WithCommitMode selects auto or manual offset commit.
func WithCommitMode(mode CommitMode) LoopOption {
	return func(l *Loop) {
		switch mode {
		case CommitAuto, CommitManual:
			l.commitMode = mode
		}
	}
}

// WithMaxRetries sets how many times a failing handler is retried before
// the message is dead-lettered.
func WithMaxRetries(n int) LoopOption {
	return func(l *Loop) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the initial backoff between retry attempts; the
// interval grows exponentially from there.
func WithRetryBackoff(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.retryBackoff = d
		}
	}
}

// WithDeadLetterer wires the publisher used for dead-letter forwarding.
func WithDeadLetterer(dl DeadLetterer) LoopOption {
	return func(l *Loop) {
		l.deadLetterer = dl
	}
}

// WithDeadLetterEnabled toggles dead-letter forwarding. Disabled, a
// permanently failed payload is logged and dropped, but its offset is still
// advanced so it cannot stall the partition.
func WithDeadLetterEnabled(enabled bool) LoopOption {
	return func(l *Loop) {
		l.deadLetter = enabled
	}
}

// WithDeadLetterPrefix sets the prefix deriving the dead-letter topic from
// the original topic.
func WithDeadLetterPrefix(prefix string) LoopOption {
	return func(l *Loop) {
		if prefix != "" {
			l.deadLetterPrefix = prefix
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for the drain.
func WithShutdownTimeout(timeout time.Duration) LoopOption {
	return func(l *Loop) {
		if timeout > 0 {
			l.shutdownTimeout = timeout
		}
	}
}

// WithLoopLogger configures structured logging for the loop.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}
