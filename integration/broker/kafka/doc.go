// Package kafka provides the persistent log-based broker integration:
// a Writer for the publish side and a Source feeding the consumer loop.
//
// # Semantics
//
// Messages are appended to topics resolved by a grouped topic strategy and
// keyed by channel name, so every message for one channel lands on the same
// partition and per-channel ordering survives a shared topic. Consumer groups
// give horizontal scale on the consume side; offsets advance only as the
// consumer loop commits, so messages survive process restarts.
//
// # Usage Example
//
//	cfg := kafka.Config{
//		Brokers:      []string{"localhost:9092"},
//		GroupID:      "realtime-consumer",
//		DefaultTopic: "realtime-events",
//		TopicRules:   "user.*=user-events:16",
//	}
//
//	writer, err := kafka.NewWriter(cfg)
//	if err != nil {
//		return err
//	}
//	defer writer.Close()
//
//	source := kafka.NewSource(cfg)
//	defer source.Close()
//
//	loop, err := consumer.NewLoop(source, handler,
//		consumer.WithChannels("user.*", "public.news"),
//		consumer.WithDeadLetterer(writer),
//	)
//
// The Writer doubles as the loop's DeadLetterer: permanently failed payloads
// are forwarded byte-for-byte to the dead-letter topic derived from the
// original topic.
//
// # Live fan-out
//
// The Writer implements broker.Broker for the manager's publish path, but
// Subscribe returns ErrSubscribeNotSupported: a log is consumed through a
// consumer loop, not through live pub/sub callbacks. Deployments wanting
// low-latency fan-out alongside durability pair this package with the redis
// integration.
package kafka
