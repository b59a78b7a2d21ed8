package message_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/message"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("assigns id and timestamp", func(t *testing.T) {
		t.Parallel()

		before := time.Now().UTC()
		msg := message.New("public.news", "announcement", map[string]any{"title": "Maintenance"})

		assert.Equal(t, "public.news", msg.Channel)
		assert.Equal(t, "announcement", msg.Event)
		assert.Equal(t, "Maintenance", msg.Data["title"])
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.Before(before))
	})

	t.Run("generates unique ids", func(t *testing.T) {
		t.Parallel()

		a := message.New("ch", "ev", nil)
		b := message.New("ch", "ev", nil)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	msg := message.New("user.7", "profile.updated", map[string]any{
		"name":  "Alice",
		"score": float64(42),
	})

	data, err := message.Encode(msg)
	require.NoError(t, err)

	decoded, err := message.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, msg.Channel, decoded.Channel)
	assert.Equal(t, msg.Event, decoded.Event)
	assert.Equal(t, msg.Data, decoded.Data)
	assert.Equal(t, msg.ID, decoded.ID)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()

		_, err := message.Decode(nil)
		require.ErrorIs(t, err, message.ErrDecodeMessage)
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()

		_, err := message.Decode([]byte("{not json"))
		require.ErrorIs(t, err, message.ErrDecodeMessage)
	})

	t.Run("missing channel", func(t *testing.T) {
		t.Parallel()

		_, err := message.Decode([]byte(`{"event":"ev","data":{}}`))
		require.ErrorIs(t, err, message.ErrDecodeMessage)
	})

	t.Run("missing event", func(t *testing.T) {
		t.Parallel()

		_, err := message.Decode([]byte(`{"channel":"ch","data":{}}`))
		require.ErrorIs(t, err, message.ErrDecodeMessage)
	})
}
