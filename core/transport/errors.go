package transport

import "errors"

var (
	// ErrConnectionNotFound is returned when sending to an unknown connection id.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionClosed is returned when a connection has been lost, failed
	// its heartbeat, or fell too far behind to keep receiving messages.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTransportClosed is returned when operating on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
)
