// Package worker provides the worker loop that drives items from an
// in-process queue into a user handler.
//
// A Loop consumes an ordered item stream one item at a time. For every item
// it applies a bounded-attempt retry policy and a per-attempt timeout, and
// reports terminal failures to an optional error callback. One item's
// failure never blocks or drops the items after it.
//
// # Attempts
//
// Each item gets at most RetryAttempts+1 attempts. Every attempt builds a
// fresh handler from the HandlerFactory and runs it under its own timeout
// scope derived from the run context, so a timeout never carries over into
// the next attempt. Between attempts the loop waits RetryDelay.
//
// An attempt that exceeds its timeout fails with *api.TimeoutError even if
// the handler ignores its context; a panicking handler fails with
// *api.PanicError. Both are retried like any other error.
//
// # Cancellation
//
// Cancelling the run context aborts the attempt in flight, including a
// pending retry delay. Cancellation is never retried and never reaches the
// error callback: it stops the loop.
//
// # Observability
//
// Every stage is reported to an api.Observer: attempt start, attempt
// failure with the upcoming retry delay, completion, exhaustion,
// cancellation and callback failures.
//
// Most applications do not use this package directly. bgwork.ChannelService
// wires a Loop to a queue and gives it a start/stop lifecycle.
package worker
