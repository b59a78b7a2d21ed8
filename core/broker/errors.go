package broker

import "errors"

var (
	// ErrBrokerUnavailable is returned when the backend cannot be reached
	// for a connect, publish, or subscribe operation. Local delivery never
	// depends on broker health; callers log this and move on.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrBrokerClosed is returned when operating on a closed broker.
	ErrBrokerClosed = errors.New("broker closed")

	// ErrNoRoute is returned when a topic strategy cannot resolve a channel.
	ErrNoRoute = errors.New("no route for channel")
)
