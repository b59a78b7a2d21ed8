package channel

import "errors"

var (
	// ErrAuthorizationDenied is returned when a subscribe attempt is rejected,
	// either by a matching authorizer or because a private/presence channel
	// has no matching authorizer at all (fail closed).
	ErrAuthorizationDenied = errors.New("channel authorization denied")

	// ErrInvalidAuthorizer is returned when registering an authorizer with a
	// malformed glob pattern or a nil predicate.
	ErrInvalidAuthorizer = errors.New("invalid authorizer registration")
)
