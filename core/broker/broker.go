package broker

import "context"

// Broker replicates messages published on one process to every other
// process, enabling horizontal scale-out of the broadcast subsystem.
//
// Publish must never block the calling code path beyond enqueueing the
// payload; broker adapters absorb network latency internally. Subscribe only
// registers interest: entering a blocking receive state is reserved for the
// dedicated consumer loop, never a request-serving code path.
type Broker interface {
	// Publish sends an encoded message for the channel to the backend.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a handler for payloads arriving on the channel.
	// Glob patterns are accepted where the backend supports them.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error

	// IsConnected reports whether the backend link is currently healthy.
	IsConnected() bool

	// Close releases the backend connection.
	Close() error
}

// Envelope is the broker-specific wrapper around one serialized message.
// Meta carries adapter-private commit state (e.g. the underlying broker
// message or delivery tag) and is opaque to everything but the adapter that
// produced it.
type Envelope struct {
	Topic     string
	Key       string
	Payload   []byte
	Partition int
	Offset    int64
	Meta      any
}
