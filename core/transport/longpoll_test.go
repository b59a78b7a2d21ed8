package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/message"
	"github.com/veltio/realtime/core/transport"
)

type pollResponse struct {
	ConnectionID string            `json:"connection_id"`
	Messages     []message.Message `json:"messages"`
}

func pollConnect(t *testing.T, tr *transport.LongPoll) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ConnectionID)
	return resp.ConnectionID
}

func pollOnce(t *testing.T, tr *transport.LongPoll, connID string) pollResponse {
	t.Helper()

	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll?connection_id="+connID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLongPoll_ConnectThenDrain(t *testing.T) {
	t.Parallel()

	tr := transport.NewLongPoll(transport.WithPollTimeout(50 * time.Millisecond))
	defer tr.Close()

	connID := pollConnect(t, tr)

	msg := message.New("public.news", "announcement", map[string]any{"title": "Maintenance"})
	require.NoError(t, tr.Send(context.Background(), connID, msg))

	resp := pollOnce(t, tr, connID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "announcement", resp.Messages[0].Event)
	assert.Equal(t, "public.news", resp.Messages[0].Channel)

	// Buffer was drained: the next poll waits out the timeout and comes back empty.
	resp = pollOnce(t, tr, connID)
	assert.Empty(t, resp.Messages)
}

func TestLongPoll_BoundedWaitReturnsEmpty(t *testing.T) {
	t.Parallel()

	tr := transport.NewLongPoll(transport.WithPollTimeout(20 * time.Millisecond))
	defer tr.Close()

	connID := pollConnect(t, tr)

	start := time.Now()
	resp := pollOnce(t, tr, connID)
	assert.Empty(t, resp.Messages)
	assert.Less(t, time.Since(start), 5*time.Second, "poll must return after the bounded timeout")
}

func TestLongPoll_HeldRequestWakesOnMessage(t *testing.T) {
	t.Parallel()

	tr := transport.NewLongPoll(transport.WithPollTimeout(5 * time.Second))
	defer tr.Close()

	connID := pollConnect(t, tr)

	done := make(chan pollResponse, 1)
	go func() {
		done <- pollOnce(t, tr, connID)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Send(context.Background(), connID, message.New("ch", "ev", nil)))

	select {
	case resp := <-done:
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "ev", resp.Messages[0].Event)
	case <-time.After(2 * time.Second):
		t.Fatal("held poll did not wake on message")
	}
}

func TestLongPoll_UnknownConnection(t *testing.T) {
	t.Parallel()

	tr := transport.NewLongPoll()
	defer tr.Close()

	rec := httptest.NewRecorder()
	tr.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/poll?connection_id=missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	err := tr.Send(context.Background(), "missing", message.New("ch", "ev", nil))
	require.ErrorIs(t, err, transport.ErrConnectionNotFound)
}

func TestLongPoll_IdlePurge(t *testing.T) {
	t.Parallel()

	tr := transport.NewLongPoll(transport.WithPollIdleTimeout(30 * time.Millisecond))
	defer tr.Close()

	disconnected := make(chan string, 1)
	tr.OnDisconnect(func(c *transport.Connection) { disconnected <- c.ID() })

	connID := pollConnect(t, tr)

	select {
	case id := <-disconnected:
		assert.Equal(t, connID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not purged")
	}
	assert.Equal(t, 0, tr.Len())
}
