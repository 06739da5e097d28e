package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/worker"
)

const (
	DefaultMaxWait        = 10 * time.Second
	DefaultHandlerTimeout = 10 * time.Minute
	DefaultMaxDeliveries  = 10

	settleTimeout = 30 * time.Second
)

// Config controls a Consumer.
type Config struct {
	// Prefetch is the maximum number of messages received per batch.
	// 0 means 1.
	Prefetch int

	// MaxWait is how long a single receive waits for the first message.
	MaxWait time.Duration

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration

	// Filter is an optional CEL expression; see Filter.
	Filter string

	// MaxDeliveries is how many deliveries a failing message gets before it
	// is rejected (dead-lettered) instead of abandoned. 0 means
	// DefaultMaxDeliveries; a negative value disables the limit.
	MaxDeliveries int

	// Codec decodes message bodies. Nil means JSON.
	Codec Codec

	// NewBackOff builds the policy used between failed receives and before
	// a failed message is abandoned. Nil means exponential backoff without a
	// time limit.
	NewBackOff func() backoff.BackOff
}

// DefaultConfig returns a config receiving one message at a time, waiting
// up to 10 seconds per receive, with a 10 minute handler timeout and 10
// deliveries per message.
func DefaultConfig() Config {
	return Config{
		MaxWait:        DefaultMaxWait,
		HandlerTimeout: DefaultHandlerTimeout,
		MaxDeliveries:  DefaultMaxDeliveries,
		Codec:          JSON,
	}
}

func (c Config) maxDeliveries() int {
	switch {
	case c.MaxDeliveries == 0:
		return DefaultMaxDeliveries
	case c.MaxDeliveries < 0:
		return 0
	}
	return c.MaxDeliveries
}

// Validate reports the first invalid field as a *api.ConfigError.
func (c Config) Validate() error {
	switch {
	case c.Prefetch < 0:
		return api.NewConfigError("broker", "Prefetch", "must be >= 0")
	case c.MaxWait <= 0:
		return api.NewConfigError("broker", "MaxWait", "must be > 0")
	case c.HandlerTimeout <= 0:
		return api.NewConfigError("broker", "HandlerTimeout", "must be > 0")
	}
	if _, err := NewFilter(c.Filter); err != nil {
		return api.NewConfigError("broker", "Filter", err.Error())
	}
	return nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Consumer receives messages from a Source and hands them to a typed
// handler. It implements api.Service.
type Consumer[T any] struct {
	name     string
	source   Source
	factory  api.MessageHandlerFactory[T]
	cfg      Config
	observer api.Observer

	// redeliver spaces out consecutive abandons; only the loop uses it.
	redeliver backoff.BackOff

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ api.Service = (*Consumer[int])(nil)

// NewConsumer creates a consumer. Configuration errors are reported by
// Start. The consumer owns source and closes it on Stop.
func NewConsumer[T any](name string, source Source, factory api.MessageHandlerFactory[T], cfg Config, observer api.Observer) *Consumer[T] {
	if name == "" {
		name = "broker"
	}
	if cfg.Codec == nil {
		cfg.Codec = JSON
	}
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &Consumer[T]{
		name:     name,
		source:   source,
		factory:  factory,
		cfg:      cfg,
		observer: observer,
	}
}

// NewConsumerFunc is NewConsumer for a stateless handler function.
func NewConsumerFunc[T any](name string, source Source, fn func(ctx context.Context, msg T, props map[string]string) error, cfg Config, observer api.Observer) *Consumer[T] {
	var factory api.MessageHandlerFactory[T]
	if fn != nil {
		h := api.MessageHandlerFunc[T](fn)
		factory = func() api.MessageHandler[T] { return h }
	}
	return NewConsumer(name, source, factory, cfg, observer)
}

func (c *Consumer[T]) Name() string { return c.name }

// Start validates the configuration and begins receiving.
func (c *Consumer[T]) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return api.ErrServiceStopped
	}
	if c.started {
		return api.ErrAlreadyStarted
	}
	if c.source == nil {
		return api.NewConfigError("broker", "Source", "must not be nil")
	}
	if c.factory == nil {
		return api.NewConfigError("broker", "HandlerFactory", "must not be nil")
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	filter, err := NewFilter(c.cfg.Filter)
	if err != nil {
		return api.NewConfigError("broker", "Filter", err.Error())
	}
	newBackOff := c.cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	c.redeliver = newBackOff()
	c.redeliver.Reset()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true

	c.observer.OnServiceStarted(ctx, c.name)
	go c.loop(runCtx, filter)
	return nil
}

func (c *Consumer[T]) loop(ctx context.Context, filter Filter) {
	defer close(c.done)

	newBackOff := c.cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	bo := newBackOff()
	bo.Reset()

	batch := max(c.cfg.Prefetch, 1)
	for ctx.Err() == nil {
		msgs, err := c.source.Receive(ctx, batch, c.cfg.MaxWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				wait = c.cfg.MaxWait
			}
			c.observer.OnReceiveFailed(ctx, c.name, err, wait)
			if worker.Sleep(ctx, wait) != nil {
				return
			}
			continue
		}
		bo.Reset()

		for i, msg := range msgs {
			if ctx.Err() != nil {
				// Hand the rest of the batch back to the broker.
				for _, rest := range msgs[i:] {
					c.settle(ctx, "abandon", rest, c.source.Abandon)
				}
				return
			}
			c.process(ctx, filter, msg)
		}
	}
}

func (c *Consumer[T]) process(ctx context.Context, filter Filter, msg Message) {
	limit := c.cfg.maxDeliveries()
	d := api.Delivery{
		Service:     c.name,
		ID:          msg.ID,
		Attempt:     max(msg.DeliveryCount, 1),
		MaxAttempts: limit,
	}

	ok, err := filter.Match(msg)
	if err != nil {
		c.observer.OnReceiveFailed(ctx, c.name, fmt.Errorf("broker: filter message %s: %w", msg.ID, err), 0)
	}
	if !ok {
		c.settle(ctx, "complete", msg, c.source.Complete)
		return
	}

	var v T
	if err := c.cfg.Codec.Decode(msg.Body, &v); err != nil {
		err = fmt.Errorf("broker: decode %s body of message %s: %w", c.cfg.Codec.Name(), msg.ID, err)
		c.observer.OnMessageRejected(ctx, d, err)
		c.settle(ctx, "reject", msg, func(ctx context.Context, msg Message) error {
			return c.source.Reject(ctx, msg, err)
		})
		return
	}

	c.observer.OnAttemptStart(ctx, d)
	start := time.Now()
	err = worker.Invoke(ctx, c.cfg.HandlerTimeout, func(ctx context.Context) error {
		return c.factory().Handle(ctx, v, msg.Properties)
	})

	switch {
	case err == nil:
		c.redeliver.Reset()
		c.observer.OnItemCompleted(ctx, d, time.Since(start))
		c.settle(ctx, "complete", msg, c.source.Complete)
	case ctx.Err() != nil:
		c.observer.OnItemCancelled(ctx, d, ctx.Err())
		c.settle(ctx, "abandon", msg, c.source.Abandon)
	case limit > 0 && d.Attempt >= limit:
		c.observer.OnItemFailed(ctx, d, err)
		reason := &api.ExhaustedError{Attempts: d.Attempt, Err: err}
		c.observer.OnMessageRejected(ctx, d, reason)
		c.settle(ctx, "reject", msg, func(ctx context.Context, msg Message) error {
			return c.source.Reject(ctx, msg, reason)
		})
	default:
		c.observer.OnItemFailed(ctx, d, err)
		// Back off before handing the message back.
		if wait := c.redeliver.NextBackOff(); wait != backoff.Stop {
			_ = worker.Sleep(ctx, wait)
		}
		c.settle(ctx, "abandon", msg, c.source.Abandon)
	}
}

// settle runs a settlement call on a context that survives shutdown, so
// in-flight messages are still handed back to the broker.
func (c *Consumer[T]) settle(ctx context.Context, op string, msg Message, fn func(context.Context, Message) error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := fn(sctx, msg); err != nil {
		c.observer.OnReceiveFailed(ctx, c.name, fmt.Errorf("broker: %s message %s: %w", op, msg.ID, err), 0)
	}
}

// Stop cancels receiving and any handler in flight, waits for the loop to
// exit and closes the source. When ctx ends first the source is closed
// anyway, which unblocks a Receive that ignores cancellation; see
// Source.Close.
func (c *Consumer[T]) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	started := c.started
	c.mu.Unlock()

	if !started {
		if c.source != nil {
			return c.source.Close()
		}
		return nil
	}

	c.observer.OnServiceStopping(ctx, c.name, false, 0)
	c.cancel()

	var err error
	select {
	case <-c.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	err = errors.Join(err, c.source.Close())

	c.observer.OnServiceStopped(ctx, c.name, err)
	return err
}
