// Package redis provides the Redis pub/sub broker for fan-out across
// processes, plus production-ready client initialization with retry logic and
// health checking.
//
// # Semantics
//
// Redis pub/sub is ephemeral: delivery is at-most-once and there is no
// replay. A process that is down while a message is published never receives
// it. This is the right trade-off for presence updates and live UI events;
// for anything that must survive a restart use the kafka or rabbitmq
// integrations instead.
//
// # Usage Example
//
//	cfg := redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: 5 * time.Second,
//	}
//
//	b, err := redis.NewFromConfig(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer b.Close()
//
//	manager := broadcast.NewManager(
//		broadcast.WithBroker(b),
//		broadcast.WithBrokerSubscriptions("**"),
//	)
//
// # Pattern Subscriptions
//
// Channel globs map onto Redis pattern subscriptions. Redis wildcards are not
// segment-aware, so a pattern subscription may deliver more than the glob
// strictly allows; the manager routes by the channel name carried inside the
// payload, so over-delivery costs a decode and nothing else.
//
// # Error Handling
//
// The package defines domain-specific errors checked with errors.Is():
//
//   - ErrFailedToParseRedisConnString: malformed connection URL
//   - ErrRedisNotReady: Redis did not answer within the retry budget
//   - ErrEmptyConnectionURL: no connection URL provided
//   - ErrHealthcheckFailed: health check ping failed
//
// Broker operations wrap the shared broker.ErrBrokerUnavailable and
// broker.ErrBrokerClosed sentinels.
package redis
