package worker

import (
	"time"

	"github.com/petrijr/bgwork/pkg/api"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 30 * time.Second
	DefaultTimeout       = 32 * time.Minute
)

// Config controls how a Loop handles each item.
type Config[T any] struct {
	// RetryAttempts is the number of retries after the first failed attempt.
	// 0 disables retries.
	RetryAttempts int

	// RetryDelay is the wait between two attempts for the same item.
	RetryDelay time.Duration

	// Timeout bounds every single attempt. A new window starts for each
	// retry.
	Timeout time.Duration

	// DrainOnShutdown makes a graceful stop process every buffered item
	// before the loop exits. When false, stopping cancels the loop at once.
	DrainOnShutdown bool

	// OnError is called once per item after all attempts failed. Optional.
	OnError api.ErrorCallback[T]
}

// DefaultConfig returns the default configuration: 3 retries 30 seconds
// apart, a 32 minute timeout per attempt, and draining on shutdown.
func DefaultConfig[T any]() Config[T] {
	return Config[T]{
		RetryAttempts:   DefaultRetryAttempts,
		RetryDelay:      DefaultRetryDelay,
		Timeout:         DefaultTimeout,
		DrainOnShutdown: true,
	}
}

// MaxAttempts returns the total number of attempts per item.
func (c Config[T]) MaxAttempts() int {
	return c.RetryAttempts + 1
}

// Validate returns a *api.ConfigError describing the first invalid field.
func (c Config[T]) Validate() error {
	switch {
	case c.RetryAttempts < 0:
		return api.NewConfigError("worker", "RetryAttempts", "must be >= 0")
	case c.RetryDelay < 0:
		return api.NewConfigError("worker", "RetryDelay", "must be >= 0")
	case c.Timeout <= 0:
		return api.NewConfigError("worker", "Timeout", "must be > 0")
	}
	return nil
}
