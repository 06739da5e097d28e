package worker

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/bgwork/pkg/api"
)

// Invoke runs fn under a scope derived from ctx and bounded by timeout.
//
// The call returns as soon as fn returns or the scope ends, whichever comes
// first. A handler that ignores its context is abandoned at the boundary and
// keeps running in the background until it returns on its own.
//
// Errors:
//   - *api.TimeoutError when the timeout expired first
//   - ctx.Err() when ctx itself was cancelled
//   - *api.PanicError when fn panicked
//   - otherwise whatever fn returned
//
// timeout <= 0 means no per-call timeout.
func Invoke(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	scope, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		scope, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- &api.PanicError{Value: r}
			}
		}()
		result <- fn(scope)
	}()

	select {
	case err := <-result:
		if err != nil && ctx.Err() == nil && errors.Is(scope.Err(), context.DeadlineExceeded) {
			return &api.TimeoutError{Timeout: timeout}
		}
		return err
	case <-scope.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return &api.TimeoutError{Timeout: timeout}
	}
}

// Sleep waits for d or until ctx is done. It returns ctx.Err() when the wait
// was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
