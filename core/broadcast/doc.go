// Package broadcast provides the Manager, the coordinator at the center of
// the realtime subsystem: it owns the connection registry, gates channel
// subscriptions, delivers messages to local transports, and fans them out
// across processes through a broker.
//
// # Data flow
//
// A caller broadcasts a named event on a channel:
//
//	manager.Broadcast(ctx, "public.news", "announcement", map[string]any{
//	    "title": "Maintenance",
//	})
//
// The manager delivers the message synchronously to every local connection
// subscribed to the channel, then publishes it to the configured broker
// without blocking the caller. On every other process a consumer loop
// receives the message and calls BroadcastLocal (or DeliverLocal), which
// never republishes — that is what breaks the cycle.
//
// Broker publish failures are logged and counted; local delivery never
// depends on broker health, and a publishing caller only learns about broker
// trouble by explicitly asking BrokerConnected.
//
// # Wiring
//
//	registry := channel.NewRegistry(
//	    channel.WithTypeRule("user.*", channel.TypePrivate),
//	)
//	_ = registry.Authorize("user.*", authorizeOwnUserChannel)
//
//	manager := broadcast.NewManager(
//	    broadcast.WithRegistry(registry),
//	    broadcast.WithBroker(redisBroker),
//	    broadcast.WithBrokerSubscriptions("**"),
//	)
//	manager.AttachTransport(wsTransport)
//	manager.AttachTransport(pollTransport)
//
// AttachTransport hooks the transport's lifecycle: disconnects cascade
// synchronously into membership cleanup in every subscribed channel,
// including presence leave events when a user's last connection goes.
package broadcast
