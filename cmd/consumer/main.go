// Command consumer runs the reliability loop against a durable broker and
// turns consumed messages back into live delivery, either by logging them or
// by forwarding them to the Redis fan-out layer the socket nodes subscribe to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/consumer"
	"github.com/veltio/realtime/core/message"
	"github.com/veltio/realtime/integration/broker/kafka"
	"github.com/veltio/realtime/integration/broker/rabbitmq"
	"github.com/veltio/realtime/integration/broker/redis"
)

// Build information. Populated at build-time via -ldflags flag.
var version = "dev"

func main() {
	// Missing .env is fine, the environment itself still applies.
	_ = godotenv.Load()

	defaults := consumer.DefaultConfig()

	cmd := &cli.Command{
		Name:    "realtime-consumer",
		Usage:   "Consume realtime messages from a durable broker and replay them into live delivery",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "broker",
				Usage:   "durable broker backend (kafka, rabbitmq)",
				Sources: cli.EnvVars("CONSUMER_BROKER"),
				Value:   "kafka",
			},
			&cli.StringSliceFlag{
				Name:    "channels",
				Usage:   "channel names or globs to consume",
				Sources: cli.EnvVars("CONSUMER_CHANNELS"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "messages per dispatch batch",
				Sources: cli.EnvVars("CONSUMER_BATCH_SIZE"),
				Value:   defaults.BatchSize,
			},
			&cli.DurationFlag{
				Name:    "flush-interval",
				Usage:   "max time a partial batch waits before dispatch",
				Sources: cli.EnvVars("CONSUMER_FLUSH_INTERVAL"),
				Value:   defaults.FlushInterval,
			},
			&cli.DurationFlag{
				Name:    "poll-timeout",
				Usage:   "bound on each broker poll",
				Sources: cli.EnvVars("CONSUMER_POLL_TIMEOUT"),
				Value:   defaults.PollTimeout,
			},
			&cli.IntFlag{
				Name:    "max-messages",
				Usage:   "exit after this many messages (0 = run forever)",
				Sources: cli.EnvVars("CONSUMER_MAX_MESSAGES"),
			},
			&cli.StringFlag{
				Name:    "commit-mode",
				Usage:   "offset commit mode (auto, manual)",
				Sources: cli.EnvVars("CONSUMER_COMMIT_MODE"),
				Value:   string(defaults.CommitMode),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "handler retries before dead-lettering",
				Sources: cli.EnvVars("CONSUMER_MAX_RETRIES"),
				Value:   defaults.MaxRetries,
			},
			&cli.DurationFlag{
				Name:    "retry-backoff",
				Usage:   "initial backoff between handler retries",
				Sources: cli.EnvVars("CONSUMER_RETRY_BACKOFF"),
				Value:   defaults.RetryBackoff,
			},
			&cli.BoolFlag{
				Name:    "dead-letter",
				Usage:   "forward permanently failed messages to a dead-letter topic",
				Sources: cli.EnvVars("CONSUMER_DEAD_LETTER"),
				Value:   defaults.DeadLetter,
			},
			&cli.StringFlag{
				Name:    "dead-letter-prefix",
				Usage:   "prefix deriving the dead-letter topic",
				Sources: cli.EnvVars("CONSUMER_DEAD_LETTER_PREFIX"),
				Value:   defaults.DeadLetterPrefix,
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "bound on the shutdown drain",
				Sources: cli.EnvVars("CONSUMER_SHUTDOWN_TIMEOUT"),
				Value:   defaults.ShutdownTimeout,
			},
			&cli.BoolFlag{
				Name:    "forward-redis",
				Usage:   "republish consumed messages to the Redis fan-out layer",
				Sources: cli.EnvVars("CONSUMER_FORWARD_REDIS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log format (text, json)",
				Sources: cli.EnvVars("LOG_FORMAT"),
				Value:   "text",
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	logger, err := setupLogger(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	source, deadLetterer, strategy, cleanup, err := buildBroker(ctx, c.String("broker"), logger)
	if err != nil {
		return err
	}
	defer cleanup()

	handler, handlerCleanup, err := buildHandler(ctx, c, logger)
	if err != nil {
		return err
	}
	defer handlerCleanup()

	loopCfg := consumer.Config{
		Channels:         c.StringSlice("channels"),
		BatchSize:        c.Int("batch-size"),
		FlushInterval:    c.Duration("flush-interval"),
		PollTimeout:      c.Duration("poll-timeout"),
		MaxMessages:      c.Int("max-messages"),
		CommitMode:       consumer.CommitMode(c.String("commit-mode")),
		MaxRetries:       c.Int("max-retries"),
		RetryBackoff:     c.Duration("retry-backoff"),
		DeadLetter:       c.Bool("dead-letter"),
		DeadLetterPrefix: c.String("dead-letter-prefix"),
		ShutdownTimeout:  c.Duration("shutdown-timeout"),
	}

	loop, err := consumer.NewLoopFromConfig(loopCfg, source, handler,
		consumer.WithStrategy(strategy),
		consumer.WithDeadLetterer(deadLetterer),
		consumer.WithLoopLogger(logger),
	)
	if err != nil {
		return err
	}

	logger.Info("starting consumer",
		slog.String("broker", c.String("broker")),
		slog.Any("channels", loopCfg.Channels))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(loop.Run(ctx))
	return g.Wait()
}

// buildBroker wires the consume side for the selected backend. The two
// consumable kinds are a closed set; adding a third means adding a case here.
func buildBroker(ctx context.Context, kind string, logger *slog.Logger) (consumer.Source, consumer.DeadLetterer, broker.Strategy, func(), error) {
	switch kind {
	case "kafka":
		var cfg kafka.Config
		if err := env.Parse(&cfg); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse kafka config: %w", err)
		}

		strategy, err := cfg.Strategy()
		if err != nil {
			return nil, nil, nil, nil, err
		}

		writer, err := kafka.NewWriter(cfg, kafka.WithWriterLogger(logger))
		if err != nil {
			return nil, nil, nil, nil, err
		}

		source := kafka.NewSource(cfg, kafka.WithSourceLogger(logger))
		cleanup := func() {
			_ = source.Close()
			_ = writer.Close()
		}
		return source, writer, strategy, cleanup, nil

	case "rabbitmq":
		var cfg rabbitmq.Config
		if err := env.Parse(&cfg); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("parse rabbitmq config: %w", err)
		}

		b, err := rabbitmq.New(ctx, cfg, rabbitmq.WithLogger(logger))
		if err != nil {
			return nil, nil, nil, nil, err
		}

		source, err := rabbitmq.NewSource(ctx, cfg, rabbitmq.WithSourceLogger(logger))
		if err != nil {
			_ = b.Close()
			return nil, nil, nil, nil, err
		}

		cleanup := func() {
			_ = source.Close()
			_ = b.Close()
		}
		// Routing keys are channel names, so topics resolve one-to-one.
		return source, b, broker.PerChannelStrategy{}, cleanup, nil

	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown broker %q, want kafka or rabbitmq", kind)
	}
}

// buildHandler returns the per-message delivery path: a Redis republish when
// bridging the durable log into the live fan-out layer, a structured log line
// otherwise.
func buildHandler(ctx context.Context, c *cli.Command, logger *slog.Logger) (consumer.Handler, func(), error) {
	if !c.Bool("forward-redis") {
		return func(_ context.Context, msg message.Message) error {
			logger.Info("message consumed",
				slog.String("channel", msg.Channel),
				slog.String("event", msg.Event),
				slog.String("message_id", msg.ID))
			return nil
		}, func() {}, nil
	}

	var cfg redis.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, nil, fmt.Errorf("parse redis config: %w", err)
	}

	fanout, err := redis.NewFromConfig(ctx, cfg, redis.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	handler := func(ctx context.Context, msg message.Message) error {
		payload, err := message.Encode(msg)
		if err != nil {
			return err
		}
		return fanout.Publish(ctx, msg.Channel, payload)
	}
	return handler, func() { _ = fanout.Close() }, nil
}

func setupLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q, want text or json", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
