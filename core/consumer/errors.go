package consumer

import "errors"

var (
	// ErrSourceNil is returned when constructing a loop without a source.
	ErrSourceNil = errors.New("consumer source is nil")

	// ErrHandlerNil is returned when constructing a loop without a handler.
	ErrHandlerNil = errors.New("consumer handler is nil")

	// ErrNoChannels is returned when starting a loop with no channels configured.
	ErrNoChannels = errors.New("no channels configured")

	// ErrLoopAlreadyStarted is returned when Start is called on a running loop.
	ErrLoopAlreadyStarted = errors.New("consumer loop already started")

	// ErrLoopNotStarted is returned when Stop is called on a stopped loop.
	ErrLoopNotStarted = errors.New("consumer loop not started")
)
