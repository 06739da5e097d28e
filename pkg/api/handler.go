package api

import (
	"context"
)

// Handler processes a single item taken from an in-process queue.
//
// Handle is invoked once per attempt. It must respect ctx: the context is
// cancelled when the attempt times out or when the owning service shuts down.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc[T any] func(ctx context.Context, item T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error {
	return f(ctx, item)
}

// HandlerFactory builds a fresh Handler for every attempt so that no mutable
// handler state is shared between items.
type HandlerFactory[T any] func() Handler[T]

// Singleton returns a factory that always hands out h. Use it for stateless
// handlers or handlers that are safe for reentrant use.
func Singleton[T any](h Handler[T]) HandlerFactory[T] {
	return func() Handler[T] { return h }
}

// ErrorCallback is invoked at most once per item, after all attempts have
// failed. err is the error returned by the last attempt.
// A returned error is reported to the Observer and otherwise ignored.
type ErrorCallback[T any] func(ctx context.Context, err error, item T) error

// CronHandler runs once per schedule tick.
type CronHandler interface {
	Handle(ctx context.Context) error
}

// CronHandlerFunc adapts a function to CronHandler.
type CronHandlerFunc func(ctx context.Context) error

func (f CronHandlerFunc) Handle(ctx context.Context) error {
	return f(ctx)
}

// CronHandlerFactory builds a fresh CronHandler per tick.
type CronHandlerFactory func() CronHandler

// MessageHandler processes a decoded broker message. props carries the
// broker's application properties (headers) for the message.
type MessageHandler[T any] interface {
	Handle(ctx context.Context, msg T, props map[string]string) error
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc[T any] func(ctx context.Context, msg T, props map[string]string) error

func (f MessageHandlerFunc[T]) Handle(ctx context.Context, msg T, props map[string]string) error {
	return f(ctx, msg, props)
}

// MessageHandlerFactory builds a fresh MessageHandler per message.
type MessageHandlerFactory[T any] func() MessageHandler[T]

// Service is a long-running background component with an explicit
// start/stop lifecycle.
//
// Start must not block beyond validation and setup. Stop blocks until the
// service has shut down or ctx is done, whichever comes first.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
