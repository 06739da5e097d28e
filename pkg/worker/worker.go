package worker

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/bgwork/pkg/api"
)

// Loop pulls items from a stream and hands each one to a freshly built
// handler, applying the retry and timeout policy from its Config.
type Loop[T any] struct {
	name     string
	cfg      Config[T]
	factory  api.HandlerFactory[T]
	observer api.Observer
}

// New validates cfg and returns a Loop. name identifies the loop in observer
// events. A nil observer is replaced by api.NoopObserver.
func New[T any](name string, factory api.HandlerFactory[T], cfg Config[T], observer api.Observer) (*Loop[T], error) {
	if factory == nil {
		return nil, api.NewConfigError("worker", "HandlerFactory", "must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &Loop[T]{
		name:     name,
		cfg:      cfg,
		factory:  factory,
		observer: observer,
	}, nil
}

// Name returns the name reported in observer events.
func (l *Loop[T]) Name() string { return l.name }

// Config returns the validated configuration.
func (l *Loop[T]) Config() Config[T] { return l.cfg }

// Run processes items in stream order until the stream ends or ctx is
// cancelled. Per-item failures never escape: Run returns nil once the stream
// is exhausted and ctx.Err() when it stopped because of cancellation.
func (l *Loop[T]) Run(ctx context.Context, items iter.Seq[T]) error {
	for item := range items {
		l.Process(ctx, item)
		if ctx.Err() != nil {
			break
		}
	}
	return ctx.Err()
}

// Process runs the full attempt cycle for a single item.
func (l *Loop[T]) Process(ctx context.Context, item T) {
	maxAttempts := l.cfg.MaxAttempts()
	d := api.Delivery{
		Service:     l.name,
		ID:          uuid.NewString(),
		MaxAttempts: maxAttempts,
	}

	var lastErr error
	start := time.Now()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		d.Attempt = attempt
		l.observer.OnAttemptStart(ctx, d)

		err := Invoke(ctx, l.cfg.Timeout, func(ctx context.Context) error {
			return l.factory().Handle(ctx, item)
		})
		if err == nil {
			l.observer.OnItemCompleted(ctx, d, time.Since(start))
			return
		}
		if ctx.Err() != nil {
			// Shutdown, not a handler failure.
			l.observer.OnItemCancelled(ctx, d, ctx.Err())
			return
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		l.observer.OnAttemptFailed(ctx, d, err, l.cfg.RetryDelay)
		if err := Sleep(ctx, l.cfg.RetryDelay); err != nil {
			l.observer.OnItemCancelled(ctx, d, err)
			return
		}
	}

	l.observer.OnItemFailed(ctx, d, &api.ExhaustedError{Attempts: maxAttempts, Err: lastErr})
	l.notify(ctx, d, lastErr, item)
}

func (l *Loop[T]) notify(ctx context.Context, d api.Delivery, err error, item T) {
	if l.cfg.OnError == nil {
		return
	}

	cbErr := func() (cbErr error) {
		defer func() {
			if r := recover(); r != nil {
				cbErr = &api.PanicError{Value: r}
			}
		}()
		return l.cfg.OnError(ctx, err, item)
	}()
	if cbErr != nil {
		l.observer.OnCallbackFailed(ctx, d, &api.CallbackError{Err: cbErr})
	}
}
