package channel_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/channel"
)

type fakeConn struct {
	id       string
	userID   string
	metadata map[string]any
}

func (c *fakeConn) ID() string               { return c.id }
func (c *fakeConn) UserID() string           { return c.userID }
func (c *fakeConn) Metadata() map[string]any { return c.metadata }

func TestAuthorizers_Register(t *testing.T) {
	t.Parallel()

	t.Run("rejects nil predicate", func(t *testing.T) {
		t.Parallel()

		a := channel.NewAuthorizers()
		err := a.Register("user.*", nil)
		require.ErrorIs(t, err, channel.ErrInvalidAuthorizer)
	})

	t.Run("rejects malformed pattern", func(t *testing.T) {
		t.Parallel()

		a := channel.NewAuthorizers()
		err := a.Register("user.[", func(context.Context, channel.Conn, string) bool { return true })
		require.ErrorIs(t, err, channel.ErrInvalidAuthorizer)
	})

	t.Run("rejects empty pattern", func(t *testing.T) {
		t.Parallel()

		a := channel.NewAuthorizers()
		err := a.Register("", func(context.Context, channel.Conn, string) bool { return true })
		require.ErrorIs(t, err, channel.ErrInvalidAuthorizer)
	})
}

func TestAuthorizers_MostSpecificWins(t *testing.T) {
	t.Parallel()

	allow := func(context.Context, channel.Conn, string) bool { return true }
	deny := func(context.Context, channel.Conn, string) bool { return false }

	a := channel.NewAuthorizers()
	require.NoError(t, a.Register("user.**", allow))
	require.NoError(t, a.Register("user.admin", deny))

	fn, ok := a.Match("user.admin")
	require.True(t, ok)
	assert.False(t, fn(context.Background(), &fakeConn{}, "user.admin"),
		"literal pattern must beat the wildcard")

	fn, ok = a.Match("user.7")
	require.True(t, ok)
	assert.True(t, fn(context.Background(), &fakeConn{}, "user.7"))

	_, ok = a.Match("orders.7")
	assert.False(t, ok)
}

func TestAuthorizers_TieBreaksTowardEarliestRegistration(t *testing.T) {
	t.Parallel()

	first := func(context.Context, channel.Conn, string) bool { return true }
	second := func(context.Context, channel.Conn, string) bool { return false }

	a := channel.NewAuthorizers()
	require.NoError(t, a.Register("user.*", first))
	require.NoError(t, a.Register("usex.*", second)) // same specificity

	fn, ok := a.Match("user.7")
	require.True(t, ok)
	assert.True(t, fn(context.Background(), &fakeConn{}, "user.7"))
}

func TestRegistry_CheckAccess(t *testing.T) {
	t.Parallel()

	t.Run("public channels always pass", func(t *testing.T) {
		t.Parallel()

		registry := channel.NewRegistry()
		conn := &fakeConn{id: "c1"}
		require.NoError(t, registry.CheckAccess(context.Background(), conn, "public.news"))
	})

	t.Run("private channel without authorizer fails closed", func(t *testing.T) {
		t.Parallel()

		registry := channel.NewRegistry()
		conn := &fakeConn{id: "c1"}
		err := registry.CheckAccess(context.Background(), conn, "private.billing")
		require.ErrorIs(t, err, channel.ErrAuthorizationDenied)
	})

	t.Run("authorizer decision is surfaced to the caller", func(t *testing.T) {
		t.Parallel()

		registry := channel.NewRegistry(
			channel.WithTypeRule("user.*", channel.TypePrivate),
		)
		require.NoError(t, registry.Authorize("user.*", func(_ context.Context, conn channel.Conn, name string) bool {
			return "user."+conn.UserID() == name
		}))

		owner := &fakeConn{id: "c1", userID: "7"}
		require.NoError(t, registry.CheckAccess(context.Background(), owner, "user.7"))

		intruder := &fakeConn{id: "c2", userID: "8"}
		err := registry.CheckAccess(context.Background(), intruder, "user.7")
		require.ErrorIs(t, err, channel.ErrAuthorizationDenied)
	})

	t.Run("authorizer is invoked exactly once per attempt", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int64
		registry := channel.NewRegistry(
			channel.WithTypeRule("user.*", channel.TypePrivate),
		)
		require.NoError(t, registry.Authorize("user.*", func(context.Context, channel.Conn, string) bool {
			calls.Add(1)
			return true
		}))

		conn := &fakeConn{id: "c1", userID: "7"}
		require.NoError(t, registry.CheckAccess(context.Background(), conn, "user.7"))
		assert.Equal(t, int64(1), calls.Load())

		require.NoError(t, registry.CheckAccess(context.Background(), conn, "user.7"))
		assert.Equal(t, int64(2), calls.Load(), "each attempt evaluates once, never twice")
	})
}
