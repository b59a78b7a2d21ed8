package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/message"
	"github.com/veltio/realtime/core/transport"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocket_SendDeliversFrame(t *testing.T) {
	t.Parallel()

	tr := transport.NewWebSocket(transport.WithWSAllowAnyOrigin())
	defer tr.Close()

	connected := make(chan *transport.Connection, 1)
	tr.OnConnect(func(c *transport.Connection) { connected <- c })

	srv := httptest.NewServer(tr)
	defer srv.Close()

	client := dialWS(t, srv)

	var conn *transport.Connection
	select {
	case conn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect handler did not fire")
	}

	msg := message.New("public.news", "announcement", map[string]any{"title": "Maintenance"})
	require.NoError(t, tr.Send(context.Background(), conn.ID(), msg))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	decoded, err := message.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "public.news", decoded.Channel)
	assert.Equal(t, "announcement", decoded.Event)
	assert.Equal(t, "Maintenance", decoded.Data["title"])
}

func TestWebSocket_DisconnectFiresHandlerSynchronously(t *testing.T) {
	t.Parallel()

	tr := transport.NewWebSocket(transport.WithWSAllowAnyOrigin())
	defer tr.Close()

	connected := make(chan *transport.Connection, 1)
	disconnected := make(chan *transport.Connection, 1)
	tr.OnConnect(func(c *transport.Connection) { connected <- c })
	tr.OnDisconnect(func(c *transport.Connection) { disconnected <- c })

	srv := httptest.NewServer(tr)
	defer srv.Close()

	client := dialWS(t, srv)

	var conn *transport.Connection
	select {
	case conn = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect handler did not fire")
	}

	require.NoError(t, client.Close())

	select {
	case gone := <-disconnected:
		assert.Equal(t, conn.ID(), gone.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler did not fire")
	}

	// The connection is gone from the registry once handlers completed.
	require.Eventually(t, func() bool { return tr.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	err := tr.Send(context.Background(), conn.ID(), message.New("ch", "ev", nil))
	require.ErrorIs(t, err, transport.ErrConnectionNotFound)
}

func TestWebSocket_MissedHeartbeatsDisconnect(t *testing.T) {
	t.Parallel()

	tr := transport.NewWebSocket(
		transport.WithWSAllowAnyOrigin(),
		transport.WithWSPingInterval(20*time.Millisecond),
		transport.WithWSMaxMissedHeartbeats(2),
	)
	defer tr.Close()

	disconnected := make(chan struct{}, 1)
	tr.OnDisconnect(func(*transport.Connection) { disconnected <- struct{}{} })

	srv := httptest.NewServer(tr)
	defer srv.Close()

	client := dialWS(t, srv)
	// Swallow pings without replying so the server counts missed heartbeats.
	client.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("connection missing heartbeats was not disconnected")
	}
}

func TestWebSocket_IdentityAttachesUserAndMetadata(t *testing.T) {
	t.Parallel()

	tr := transport.NewWebSocket(
		transport.WithWSAllowAnyOrigin(),
		transport.WithWSIdentity(func(r *http.Request) (string, map[string]any) {
			return r.URL.Query().Get("user"), map[string]any{"ua": r.UserAgent()}
		}),
	)
	defer tr.Close()

	connected := make(chan *transport.Connection, 1)
	tr.OnConnect(func(c *transport.Connection) { connected <- c })

	srv := httptest.NewServer(tr)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u42"
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer client.Close()

	select {
	case conn := <-connected:
		assert.Equal(t, "u42", conn.UserID())
	case <-time.After(2 * time.Second):
		t.Fatal("connect handler did not fire")
	}
}
