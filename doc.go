// Package bgwork provides background worker scaffolding for Go services.
//
// It feeds items to user handlers through three independent mechanisms,
// each with an explicit Start/Stop lifecycle (the Service interface):
//
//  1. ChannelService: an in-process queue consumer with bounded-attempt
//     retry, per-attempt timeouts and drain-on-shutdown.
//  2. CronService: runs a handler on a cron schedule.
//  3. Consumer: receives messages from an external broker (Redis Streams or
//     RabbitMQ) and settles them after the handler returns.
//
// A Host starts a set of services and stops them together when its context
// is cancelled.
//
// # Channel service
//
// Producers enqueue items; a single worker loop takes them in FIFO order
// and hands each one to a fresh handler from the HandlerFactory:
//
//	svc := bgwork.NewChannelServiceFunc(sendEmail,
//	    bgwork.WithRetry(bgwork.Retry(3).Every(10*time.Second).Policy()),
//	    bgwork.WithTimeout(time.Minute),
//	    bgwork.WithOnError(func(ctx context.Context, err error, msg Email) error {
//	        return deadLetters.Save(ctx, msg, err)
//	    }),
//	)
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	_ = svc.Enqueue(ctx, Email{To: "gopher@example.com"})
//
// An item is attempted up to RetryAttempts+1 times with RetryDelay between
// attempts. Every attempt runs under its own timeout; a handler that
// ignores its context is abandoned at the deadline and the attempt counts as
// failed. When all attempts fail the OnError callback is invoked once with
// the last attempt's error, and the Observer receives an *ExhaustedError.
// Errors from the callback are reported to the Observer and otherwise
// ignored.
//
// Stop closes the queue. With DrainOnShutdown (the default) buffered items
// are still handled until the stop context expires; items left at that
// point are dropped and Stop returns a *DrainTimeoutError. Without draining
// the loop is cancelled at once and the dropped items are reported through
// Observer.OnItemsDropped.
//
// # Observability
//
// Every service accepts an Observer. NewLoggingObserver writes structured
// log/slog records, BasicMetrics keeps counters, and NewCompositeObserver
// combines them.
//
// # Brokers and checkpoints
//
// Consumer works on any Source. Redis Streams can be consumed through a
// consumer group (NewRedisQueueSource) or read as a log that persists its
// position in a CheckpointStore (NewRedisLogSource). Checkpoints can be kept
// in memory, SQLite, Postgres, MySQL, MongoDB, Redis or Pebble.
package bgwork
