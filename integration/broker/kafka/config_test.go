package kafka_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltio/realtime/core/broker"
	"github.com/veltio/realtime/integration/broker/kafka"
)

func TestConfig_Strategy(t *testing.T) {
	t.Parallel()

	t.Run("default topic only", func(t *testing.T) {
		t.Parallel()

		cfg := kafka.Config{DefaultTopic: "realtime-events", DefaultPartitions: 8}
		strategy, err := cfg.Strategy()
		require.NoError(t, err)

		route, err := strategy.Resolve("anything.goes")
		require.NoError(t, err)
		assert.Equal(t, "realtime-events", route.Topic)
		assert.Equal(t, "anything.goes", route.PartitionKey)
	})

	t.Run("rules route ahead of default", func(t *testing.T) {
		t.Parallel()

		cfg := kafka.Config{
			DefaultTopic:      "realtime-events",
			DefaultPartitions: 8,
			TopicRules:        "user.*=user-events:16",
		}
		strategy, err := cfg.Strategy()
		require.NoError(t, err)

		route, err := strategy.Resolve("user.7")
		require.NoError(t, err)
		assert.Equal(t, "user-events", route.Topic)

		route, err = strategy.Resolve("orders.7")
		require.NoError(t, err)
		assert.Equal(t, "realtime-events", route.Topic)
	})

	t.Run("malformed rules", func(t *testing.T) {
		t.Parallel()

		cfg := kafka.Config{DefaultTopic: "realtime-events", TopicRules: "user.*"}
		_, err := cfg.Strategy()
		require.ErrorIs(t, err, broker.ErrNoRoute)
	})
}

func TestWriter_SubscribeNotSupported(t *testing.T) {
	t.Parallel()

	w, err := kafka.NewWriter(kafka.Config{
		Brokers:      []string{"localhost:9092"},
		DefaultTopic: "realtime-events",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	err = w.Subscribe(context.Background(), "user.*", func([]byte) {})
	require.ErrorIs(t, err, kafka.ErrSubscribeNotSupported)
}

func TestSource_PollBeforeSubscribe(t *testing.T) {
	t.Parallel()

	src := kafka.NewSource(kafka.Config{Brokers: []string{"localhost:9092"}})
	_, err := src.Poll(context.Background(), 0)
	require.ErrorIs(t, err, kafka.ErrNotSubscribed)
	require.ErrorIs(t, src.Commit(context.Background(), &broker.Envelope{}), kafka.ErrNotSubscribed)
	require.NoError(t, src.Close())
}
