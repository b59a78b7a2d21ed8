// Package consumer implements the reliability loop that turns broker
// messages back into local transport delivery.
//
// The loop is an explicit state machine:
//
//	Idle → Polling → (batch full | interval elapsed) → Dispatching → Committing → Idle
//
// with ShuttingDown reachable from any state on a termination signal. Each
// transition is triggered by exactly one of: batch full, flush interval
// elapsed, or shutdown — which makes every state drivable and assertable in
// tests.
//
// # Batching
//
// Polls are bounded; received envelopes accumulate into a batch that is
// flushed when either the batch-size limit is reached or the flush interval
// has elapsed since the batch's first message, whichever happens first. A
// slow trickle of messages is never held indefinitely.
//
// # Commit policy
//
// Auto-commit advances offsets on receipt: simpler, but a crash between
// receipt and processing drops messages. Manual commit advances each
// message's offset only once it reaches a final outcome — handler success or
// dead-lettered — giving at-least-once delivery; handlers must be idempotent
// because reprocessing after a crash is possible. When a batch partially
// fails, messages are committed independently: message 3 failing never
// withholds the commits of messages 4..10.
//
// # Failure policy
//
// A handler error is retried with exponential backoff up to the configured
// maximum; exhausted, the original payload is forwarded byte-for-byte to the
// dead-letter topic (dead-letter prefix + original topic) and the offset is
// advanced so the poison message cannot stall its partition. Malformed
// payloads are non-retryable and dead-letter immediately. No message ever
// terminates the loop.
//
// # Usage
//
//	loop, err := consumer.NewLoopFromConfig(cfg, source,
//	    func(ctx context.Context, msg message.Message) error {
//	        return manager.DeliverLocal(ctx, msg)
//	    },
//	    consumer.WithStrategy(strategy),
//	    consumer.WithDeadLetterer(writer),
//	)
//	if err != nil {
//	    return err
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(loop.Run(ctx))
//	return g.Wait()
//
// The handler is the manager's local-only delivery path: republishing a
// consumed message to the broker would loop it across the fleet forever.
package consumer
