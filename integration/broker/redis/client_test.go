package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/integration/broker/redis"
)

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := redis.Connect(ctx, redis.Config{})
	require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

	_, err = redis.Connect(ctx, redis.Config{ConnectionURL: "http://not-redis:6379"})
	require.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}

func TestConnect_UnreachableHost(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Reserved TEST-NET address, nothing listens there.
	_, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  "redis://192.0.2.1:6379/0",
		RetryAttempts:  1,
		RetryInterval:  time.Millisecond,
		ConnectTimeout: 200 * time.Millisecond,
	})
	require.ErrorIs(t, err, redis.ErrRedisNotReady)
}
