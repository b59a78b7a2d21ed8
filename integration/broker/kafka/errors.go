package kafka

import "errors"

var (
	// ErrSubscribeNotSupported is returned by the writer's Subscribe: Kafka
	// consumption goes through a consumer loop with its own Source, never
	// through live pub/sub callbacks.
	ErrSubscribeNotSupported = errors.New("kafka broker does not support live subscriptions, use a consumer loop with a kafka source")

	// ErrNotSubscribed is returned when polling a source before Subscribe.
	ErrNotSubscribed = errors.New("kafka source not subscribed")

	// ErrInvalidMeta is returned when committing an envelope that did not
	// originate from a kafka source.
	ErrInvalidMeta = errors.New("envelope meta is not a kafka message")
)
