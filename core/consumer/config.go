package consumer

import "time"

// CommitMode selects when consumed offsets are advanced.
type CommitMode string

const (
	// CommitAuto advances the offset immediately on receipt. Simpler, but a
	// crash between receipt and processing silently drops the message.
	CommitAuto CommitMode = "auto"

	// CommitManual advances the offset only once a message reaches a final
	// outcome (handler success or dead-lettered). At-least-once: handlers
	// must tolerate reprocessing after a crash.
	CommitManual CommitMode = "manual"
)

// Config holds the consumer loop configuration surface.
// Designed for environment-based configuration using popular env parsing libraries.
type Config struct {
	Channels         []string      `env:"CONSUMER_CHANNELS" envSeparator:","`
	BatchSize        int           `env:"CONSUMER_BATCH_SIZE" envDefault:"50"`
	FlushInterval    time.Duration `env:"CONSUMER_FLUSH_INTERVAL" envDefault:"1s"`
	PollTimeout      time.Duration `env:"CONSUMER_POLL_TIMEOUT" envDefault:"1s"`
	MaxMessages      int           `env:"CONSUMER_MAX_MESSAGES" envDefault:"0"`
	CommitMode       CommitMode    `env:"CONSUMER_COMMIT_MODE" envDefault:"manual"`
	MaxRetries       int           `env:"CONSUMER_MAX_RETRIES" envDefault:"3"`
	RetryBackoff     time.Duration `env:"CONSUMER_RETRY_BACKOFF" envDefault:"100ms"`
	DeadLetter       bool          `env:"CONSUMER_DEAD_LETTER" envDefault:"true"`
	DeadLetterPrefix string        `env:"CONSUMER_DEAD_LETTER_PREFIX" envDefault:"dlq."`
	ShutdownTimeout  time.Duration `env:"CONSUMER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		BatchSize:        50,
		FlushInterval:    time.Second,
		PollTimeout:      time.Second,
		CommitMode:       CommitManual,
		MaxRetries:       3,
		RetryBackoff:     100 * time.Millisecond,
		DeadLetter:       true,
		DeadLetterPrefix: "dlq.",
		ShutdownTimeout:  30 * time.Second,
	}
}
