// Package api contains the core contracts shared by every bgwork service:
// handlers, the Service lifecycle interface, the error taxonomy, and
// observers.
//
// Most users interact with the higher-level bgwork package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors adding new
// service kinds.
//
// # Handlers
//
// A handler is user code invoked once per attempt:
//
//   - Handler[T] processes items from an in-process queue
//   - CronHandler runs once per schedule tick
//   - MessageHandler[T] processes decoded broker messages
//
// Services never share a handler value between attempts unless told to.
// They receive a factory and build a fresh handler for each attempt. Use
// Singleton to wrap a handler that is safe for reentrant use.
//
// # Errors
//
// Configuration problems are reported as *ConfigError, synchronously from
// Start. Per-item failures never escape a service: they are retried where a
// retry policy exists and then reported through the Observer and the
// optional error callback. See ExhaustedError, TimeoutError, PanicError and
// CallbackError.
//
// # Observability
//
// Observer receives service and item lifecycle events. LoggingObserver
// writes them with log/slog, BasicMetrics counts them, and
// CompositeObserver fans them out to several observers.
package api
