package bgwork

import (
	"fmt"
	"reflect"
	"time"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/worker"
)

// Defaults for channel services.
const (
	DefaultRetryAttempts = worker.DefaultRetryAttempts
	DefaultRetryDelay    = worker.DefaultRetryDelay
	DefaultTimeout       = worker.DefaultTimeout
)

// Option configures a ChannelService.
type Option func(*options)

type options struct {
	name     string
	retry    RetryPolicy
	timeout  time.Duration
	drain    bool
	capacity int
	observer api.Observer
	onError  any
}

func defaultOptions() options {
	return options{
		retry:   RetryPolicy{Attempts: DefaultRetryAttempts, Delay: DefaultRetryDelay},
		timeout: DefaultTimeout,
		drain:   true,
	}
}

// WithName sets the name reported to observers. The default is
// "channel<T>" with T the item type.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRetryAttempts sets how many times a failed item is retried.
func WithRetryAttempts(n int) Option {
	return func(o *options) { o.retry.Attempts = n }
}

// WithRetryDelay sets the wait between two attempts for the same item.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retry.Delay = d }
}

// WithRetry applies a policy built with Retry.
func WithRetry(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithDrainOnShutdown controls whether Stop processes buffered items before
// returning (true, the default) or cancels the loop at once.
func WithDrainOnShutdown(drain bool) Option {
	return func(o *options) { o.drain = drain }
}

// WithCapacity bounds the queue. Enqueue then waits for free space.
// 0 (the default) keeps the queue unbounded.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithObserver sets the observer receiving lifecycle events.
// Combine several with NewCompositeObserver.
func WithObserver(obs api.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithOnError sets the callback invoked once per item after all attempts
// failed. T must match the item type of the service it is passed to;
// otherwise Start fails with a *ConfigError.
func WithOnError[T any](cb api.ErrorCallback[T]) Option {
	return func(o *options) { o.onError = cb }
}

func buildConfig[T any](o options) (worker.Config[T], error) {
	cfg := worker.Config[T]{
		RetryAttempts:   o.retry.Attempts,
		RetryDelay:      o.retry.Delay,
		Timeout:         o.timeout,
		DrainOnShutdown: o.drain,
	}
	if o.capacity < 0 {
		return cfg, api.NewConfigError("channel", "Capacity", "must be >= 0")
	}
	if o.onError != nil {
		cb, ok := o.onError.(api.ErrorCallback[T])
		if !ok {
			return cfg, api.NewConfigError("channel", "OnError",
				fmt.Sprintf("has type %T, want callback for %s", o.onError, reflect.TypeFor[T]()))
		}
		cfg.OnError = cb
	}
	return cfg, cfg.Validate()
}
