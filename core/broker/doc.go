// Package broker defines the cross-process fan-out contract and the topic
// strategies that bound physical topic cardinality on log-based brokers.
//
// Three backend families implement the Broker interface (see
// integration/broker): ephemeral pub/sub (Redis — lowest latency, no
// persistence, at-most-once), persistent log (Kafka — partitioned,
// replayable, at-least-once with offset tracking), and durable exchange
// (RabbitMQ — topic-routed queues with per-message acknowledgment).
//
// # Topic strategies
//
// Mapping one physical topic per channel is unbounded: thousands of channels
// would mean thousands of topics. GroupedStrategy shares topics across
// channels while keeping per-channel ordering:
//
//	strategy, _ := broker.NewGroupedStrategy("events", 8,
//	    broker.GroupRule{Pattern: "user.*", Topic: "user-events", Partitions: 16},
//	)
//
//	route, _ := strategy.Resolve("user.7")
//	// route.Topic == "user-events", route.PartitionKey == "user.7"
//
// The partition key is always the channel name, and PartitionFor hashes it
// stably, so every message for one channel lands on the same partition of
// the shared topic. That is what makes per-channel ordering possible despite
// topic sharing; no broker guarantees cross-channel ordering.
package broker
