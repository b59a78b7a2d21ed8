// Package realtime provides a broadcast and distribution subsystem for
// pushing messages to connected clients over channels: named streams with
// authorization, presence tracking, pluggable client transports and
// pluggable backend brokers.
//
// # Package Organization
//
// The module is organized into core packages, broker integrations and
// runnable commands:
//
//	github.com/veltio/realtime/core/message     - Wire format: channel-scoped events with JSON codec
//	github.com/veltio/realtime/core/channel     - Channel registry, type rules, authorization, presence
//	github.com/veltio/realtime/core/transport   - Client transports: memory, WebSocket, SSE, long-polling
//	github.com/veltio/realtime/core/broker      - Broker contract and topic partitioning strategies
//	github.com/veltio/realtime/core/broadcast   - The manager coordinating registry, transports and broker
//	github.com/veltio/realtime/core/consumer    - Reliability loop: batching, commits, retries, dead-letters
//	github.com/veltio/realtime/core/logger      - Shared slog attribute helpers
//	github.com/veltio/realtime/core/healthcheck - Liveness and readiness probe handlers
//
// Broker integrations:
//
//	github.com/veltio/realtime/integration/broker/redis    - Ephemeral pub/sub fan-out
//	github.com/veltio/realtime/integration/broker/kafka    - Persistent partitioned log
//	github.com/veltio/realtime/integration/broker/rabbitmq - Durable topic exchange
//
// Commands:
//
//	github.com/veltio/realtime/cmd/server   - Realtime node serving the HTTP transports
//	github.com/veltio/realtime/cmd/consumer - Reliability consumer over kafka or rabbitmq
//
// # Quick Start
//
//	registry := channel.NewRegistry()
//	manager := broadcast.NewManager(broadcast.WithRegistry(registry))
//
//	ws := transport.NewWebSocket()
//	manager.AttachTransport(ws)
//	http.Handle("/realtime/ws", ws)
//
//	_ = manager.Subscribe(ctx, connID, "public.news")
//	_ = manager.Broadcast(ctx, "public.news", "item.created", map[string]any{"id": 42})
//
// Local delivery works with no broker configured; attaching one (for example
// the redis integration) extends the same Broadcast call across every
// process in the fleet.
package realtime
