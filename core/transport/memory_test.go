package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/message"
	"github.com/veltio/realtime/core/transport"
)

func TestMemory_SendAndBroadcast(t *testing.T) {
	t.Parallel()

	tr := transport.NewMemory()
	defer tr.Close()

	var got1, got2 []message.Message
	conn1, err := tr.Connect("u1", nil, func(msg message.Message) { got1 = append(got1, msg) })
	require.NoError(t, err)
	conn2, err := tr.Connect("u2", nil, func(msg message.Message) { got2 = append(got2, msg) })
	require.NoError(t, err)

	msg := message.New("public.news", "announcement", map[string]any{"title": "Maintenance"})

	require.NoError(t, tr.Send(context.Background(), conn1.ID(), msg))
	require.Len(t, got1, 1)
	assert.Equal(t, "announcement", got1[0].Event)
	assert.Empty(t, got2)

	require.NoError(t, tr.Broadcast(context.Background(), []string{conn1.ID(), conn2.ID()}, msg))
	assert.Len(t, got1, 2)
	assert.Len(t, got2, 1)
}

func TestMemory_SendToUnknownConnection(t *testing.T) {
	t.Parallel()

	tr := transport.NewMemory()
	defer tr.Close()

	err := tr.Send(context.Background(), "missing", message.New("ch", "ev", nil))
	require.ErrorIs(t, err, transport.ErrConnectionNotFound)
}

func TestMemory_BroadcastSkipsUnknownConnections(t *testing.T) {
	t.Parallel()

	tr := transport.NewMemory()
	defer tr.Close()

	var got int
	conn, err := tr.Connect("u1", nil, func(message.Message) { got++ })
	require.NoError(t, err)

	err = tr.Broadcast(context.Background(), []string{"missing", conn.ID()}, message.New("ch", "ev", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestMemory_ConnectionLifecycleHandlers(t *testing.T) {
	t.Parallel()

	tr := transport.NewMemory()
	defer tr.Close()

	var connected, disconnected []string
	tr.OnConnect(func(c *transport.Connection) { connected = append(connected, c.ID()) })
	tr.OnDisconnect(func(c *transport.Connection) { disconnected = append(disconnected, c.ID()) })

	conn, err := tr.Connect("u1", map[string]any{"plan": "pro"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{conn.ID()}, connected)
	assert.Equal(t, "u1", conn.UserID())
	assert.Equal(t, "pro", conn.Metadata()["plan"])

	tr.Disconnect(conn.ID())
	require.Equal(t, []string{conn.ID()}, disconnected)
	assert.Equal(t, 0, tr.Len())

	// Disconnect handlers fire at most once per connection.
	tr.Disconnect(conn.ID())
	assert.Len(t, disconnected, 1)
}

func TestMemory_Close(t *testing.T) {
	t.Parallel()

	tr := transport.NewMemory()

	var disconnected int
	tr.OnDisconnect(func(*transport.Connection) { disconnected++ })

	_, err := tr.Connect("u1", nil, nil)
	require.NoError(t, err)
	_, err = tr.Connect("u2", nil, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	assert.Equal(t, 2, disconnected)

	_, err = tr.Connect("u3", nil, nil)
	require.ErrorIs(t, err, transport.ErrTransportClosed)

	err = tr.Send(context.Background(), "any", message.New("ch", "ev", nil))
	require.ErrorIs(t, err, transport.ErrTransportClosed)
}

func TestConnection_ChannelTracking(t *testing.T) {
	t.Parallel()

	conn := transport.NewConnection("u1", nil)

	conn.AddChannel("public.news")
	conn.AddChannel("user.1")
	assert.True(t, conn.Subscribed("public.news"))
	assert.ElementsMatch(t, []string{"public.news", "user.1"}, conn.Channels())

	conn.RemoveChannel("public.news")
	assert.False(t, conn.Subscribed("public.news"))
	assert.Equal(t, []string{"user.1"}, conn.Channels())
}
