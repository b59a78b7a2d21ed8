package message

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a Message to its JSON wire form. The same encoding is
// used for transport frames and broker payloads, so any consumer — including
// non-Go ones — can decode it.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode parses the JSON wire form back into a Message.
// Payloads that are empty, malformed, or missing the channel or event field
// return an error wrapping ErrDecodeMessage.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty payload", ErrDecodeMessage)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrDecodeMessage, err)
	}

	if msg.Channel == "" {
		return Message{}, fmt.Errorf("%w: missing channel", ErrDecodeMessage)
	}
	if msg.Event == "" {
		return Message{}, fmt.Errorf("%w: missing event", ErrDecodeMessage)
	}

	return msg, nil
}
