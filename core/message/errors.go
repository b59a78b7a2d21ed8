package message

import "errors"

// ErrDecodeMessage is returned when a wire payload cannot be parsed into a
// Message. Decode failures are permanently non-retryable: consumers should
// dead-letter the payload rather than retry it.
var ErrDecodeMessage = errors.New("failed to decode message")
