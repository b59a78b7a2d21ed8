// Package message defines the broadcast message value and its JSON wire
// codec, shared by every transport frame and broker payload.
//
// A Message carries a channel name, an event name, a structured data payload,
// an optional id, and a timestamp:
//
//	msg := message.New("orders.42", "status.changed", map[string]any{
//	    "status": "shipped",
//	})
//
//	data, err := message.Encode(msg)
//	if err != nil {
//	    return err
//	}
//
//	decoded, err := message.Decode(data)
//	if errors.Is(err, message.ErrDecodeMessage) {
//	    // malformed payload: dead-letter, never retry
//	}
//
// The wire form is plain JSON so that publishers and consumers written in
// other languages interoperate without a schema registry.
package message
