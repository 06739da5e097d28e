package bgwork

import "time"

// RetryPolicy is the retry part of a channel service configuration.
type RetryPolicy struct {
	// Attempts is the number of retries after the first failed attempt.
	Attempts int
	// Delay is the wait between two attempts.
	Delay time.Duration
}

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with WithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder allowing the given number of retries with the
// default delay.
//
// attempts < 0 is treated as 0 (no retries).
func Retry(attempts int) RetryBuilder {
	if attempts < 0 {
		attempts = 0
	}
	return RetryBuilder{
		policy: RetryPolicy{
			Attempts: attempts,
			Delay:    DefaultRetryDelay,
		},
	}
}

// Every sets the delay between attempts.
//
// Example:
//
//	bgwork.WithRetry(bgwork.Retry(5).Every(2 * time.Second).Policy())
func (r RetryBuilder) Every(delay time.Duration) RetryBuilder {
	p := r.policy
	p.Delay = delay
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
// Retries still respect the attempt count.
func (r RetryBuilder) Immediate() RetryBuilder {
	return r.Every(0)
}

// Policy returns the underlying RetryPolicy to be passed to WithRetry.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
