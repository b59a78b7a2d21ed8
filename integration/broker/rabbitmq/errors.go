package rabbitmq

import "errors"

var (
	// ErrEmptyURL is returned when no AMQP URL is provided.
	ErrEmptyURL = errors.New("empty rabbitmq connection URL")

	// ErrNotReady is returned when RabbitMQ does not become reachable within
	// the retry budget.
	ErrNotReady = errors.New("rabbitmq did not become ready within the given time period")

	// ErrNotSubscribed is returned when polling a source before Subscribe.
	ErrNotSubscribed = errors.New("rabbitmq source not subscribed")

	// ErrInvalidMeta is returned when committing an envelope that did not
	// originate from a rabbitmq source.
	ErrInvalidMeta = errors.New("envelope meta is not an amqp delivery")
)
