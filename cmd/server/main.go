// Command server runs a realtime broadcast node: HTTP transports for
// WebSocket, SSE and long-polling clients, a channel registry with
// authorization, and optional cross-process fan-out through Redis or
// RabbitMQ.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/veltio/realtime/core/broadcast"
	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/core/channel"
	"github.com/veltio/realtime/core/healthcheck"
	"github.com/veltio/realtime/core/logger"
	"github.com/veltio/realtime/core/transport"
	"github.com/veltio/realtime/integration/broker/rabbitmq"
	"github.com/veltio/realtime/integration/broker/redis"
)

// Build information. Populated at build-time via -ldflags flag.
var version = "dev"

func main() {
	// Missing .env is fine, the environment itself still applies.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "realtime-server",
		Usage:   "Serve realtime channels over WebSocket, SSE and long-polling",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address",
				Sources: cli.EnvVars("SERVER_ADDR"),
				Value:   ":8080",
			},
			&cli.StringFlag{
				Name:    "broker",
				Usage:   "fan-out broker backend (none, redis, rabbitmq)",
				Sources: cli.EnvVars("SERVER_BROKER"),
				Value:   "none",
			},
			&cli.StringSliceFlag{
				Name:    "broker-channels",
				Usage:   "channel patterns to receive from the broker",
				Sources: cli.EnvVars("SERVER_BROKER_CHANNELS"),
				Value:   []string{"**"},
			},
			&cli.BoolFlag{
				Name:    "authenticated-private",
				Usage:   "grant any authenticated connection access to private and presence channels",
				Sources: cli.EnvVars("SERVER_AUTHENTICATED_PRIVATE"),
			},
			&cli.DurationFlag{
				Name:    "shutdown-timeout",
				Usage:   "bound on graceful shutdown",
				Sources: cli.EnvVars("SERVER_SHUTDOWN_TIMEOUT"),
				Value:   30 * time.Second,
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
	log, err := setupLogger(c.String("log-level"), c.String("log-format"))
	if err != nil {
		return err
	}

	registry := channel.NewRegistry(channel.WithRegistryLogger(log))
	if c.Bool("authenticated-private") {
		for _, pattern := range []string{"private.**", "presence.**"} {
			if err := registry.Authorize(pattern, func(_ context.Context, conn channel.Conn, _ string) bool {
				return conn.UserID() != ""
			}); err != nil {
				return err
			}
		}
	}

	fanout, cleanup, err := buildBroker(ctx, c.String("broker"), log)
	if err != nil {
		return err
	}
	defer cleanup()

	managerOpts := []broadcast.ManagerOption{
		broadcast.WithRegistry(registry),
		broadcast.WithLogger(log),
	}
	if fanout != nil {
		managerOpts = append(managerOpts,
			broadcast.WithBroker(fanout),
			broadcast.WithBrokerSubscriptions(c.StringSlice("broker-channels")...),
		)
	}
	manager := broadcast.NewManager(managerOpts...)

	// Identity comes from the front proxy: it authenticates the client and
	// forwards the user id in a trusted header.
	identity := func(r *http.Request) (string, map[string]any) {
		return r.Header.Get("X-User-ID"), nil
	}

	ws := transport.NewWebSocket(
		transport.WithWSIdentity(identity),
		transport.WithWSLogger(log),
	)
	sse := transport.NewSSE(
		transport.WithSSEIdentity(identity),
		transport.WithSSELogger(log),
	)
	poll := transport.NewLongPoll(
		transport.WithPollIdentity(identity),
		transport.WithPollLogger(log),
	)
	manager.AttachTransport(ws)
	manager.AttachTransport(sse)
	manager.AttachTransport(poll)

	mux := http.NewServeMux()
	mux.Handle("/realtime/ws", ws)
	mux.Handle("/realtime/sse", sse)
	mux.Handle("/realtime/poll", poll)
	mux.HandleFunc("POST /realtime/subscribe", handleSubscribe(manager))
	mux.HandleFunc("POST /realtime/unsubscribe", handleUnsubscribe(manager))
	mux.HandleFunc("POST /realtime/broadcast", handleBroadcast(manager))
	mux.HandleFunc("GET /realtime/presence/{channel}", handlePresence(manager))
	mux.Handle("/health/live", healthcheck.Handler(log))
	mux.Handle("/health/ready", healthcheck.Handler(log, manager.Healthcheck()))

	if err := manager.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", logger.Error(err))
		}
		return manager.Stop()
	})
	return g.Wait()
}

// buildBroker wires the live fan-out backend. The consumable kinds are a
// closed set; adding a third means adding a case here.
func buildBroker(ctx context.Context, kind string, log *slog.Logger) (broker.Broker, func(), error) {
	switch kind {
	case "none":
		return nil, func() {}, nil

	case "redis":
		var cfg redis.Config
		if err := env.Parse(&cfg); err != nil {
			return nil, nil, fmt.Errorf("parse redis config: %w", err)
		}
		b, err := redis.NewFromConfig(ctx, cfg, redis.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	case "rabbitmq":
		var cfg rabbitmq.Config
		if err := env.Parse(&cfg); err != nil {
			return nil, nil, fmt.Errorf("parse rabbitmq config: %w", err)
		}
		b, err := rabbitmq.New(ctx, cfg, rabbitmq.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown broker %q, want none, redis or rabbitmq", kind)
	}
}

type subscribeRequest struct {
	ConnectionID string `json:"connection_id"`
	Channel      string `json:"channel"`
}

func handleSubscribe(manager *broadcast.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" || req.Channel == "" {
			http.Error(w, "connection_id and channel are required", http.StatusBadRequest)
			return
		}

		if err := manager.Subscribe(r.Context(), req.ConnectionID, req.Channel); err != nil {
			switch {
			case errors.Is(err, channel.ErrAuthorizationDenied):
				http.Error(w, "forbidden", http.StatusForbidden)
			case errors.Is(err, transport.ErrConnectionNotFound):
				http.Error(w, "unknown connection", http.StatusNotFound)
			default:
				http.Error(w, "subscribe failed", http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleUnsubscribe(manager *broadcast.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConnectionID == "" || req.Channel == "" {
			http.Error(w, "connection_id and channel are required", http.StatusBadRequest)
			return
		}

		manager.Unsubscribe(r.Context(), req.ConnectionID, req.Channel)
		w.WriteHeader(http.StatusNoContent)
	}
}

type broadcastRequest struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

func handleBroadcast(manager *broadcast.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" || req.Event == "" {
			http.Error(w, "channel and event are required", http.StatusBadRequest)
			return
		}

		if err := manager.Broadcast(r.Context(), req.Channel, req.Event, req.Data); err != nil {
			http.Error(w, "broadcast failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func handlePresence(manager *broadcast.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members := manager.Presence(r.PathValue("channel"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"members": members})
	}
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

	log := slog.New(handler)
	slog.SetDefault(log)
	return log, nil
}
