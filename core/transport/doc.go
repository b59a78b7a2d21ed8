// Package transport implements the client-facing delivery mechanisms for
// broadcast messages.
//
// Four variants share one contract:
//
//   - Memory: direct in-process callback invocation, for single-process
//     deployments and tests.
//   - WebSocket: full-duplex persistent socket with heartbeat ping/pong;
//     a connection missing too many consecutive heartbeats is disconnected.
//   - SSE: HTTP streaming, server-to-client only, with keep-alive comment
//     frames and Last-Event-ID resumption from a bounded replay ring.
//   - LongPoll: bounded-timeout HTTP polling with per-connection buffering
//     and idle-connection purging.
//
// Every transport owns its connections exclusively and fires disconnect
// handlers synchronously before a connection is released, so channel
// membership cleanup always completes first and no channel ever retains a
// dead connection.
//
// HTTP transports are plain http.Handler values:
//
//	ws := transport.NewWebSocket(transport.WithWSIdentity(identify))
//	sse := transport.NewSSE(transport.WithSSEIdentity(identify))
//	poll := transport.NewLongPoll(transport.WithPollIdentity(identify))
//
//	mux.Handle("/realtime/ws", ws)
//	mux.Handle("/realtime/sse", sse)
//	mux.Handle("/realtime/poll", poll)
//
// Slow consumers never block the broadcast path: a WebSocket or SSE
// connection whose outbound buffer fills up is disconnected, and long-poll
// buffers drop their oldest messages past the configured bound.
package transport
