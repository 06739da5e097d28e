package bgwork

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/petrijr/bgwork/internal/taskqueue"
	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/worker"
)

type serviceState int

const (
	stateIdle serviceState = iota
	stateRunning
	stateStopped
)

// ChannelService owns an in-memory queue and the single worker loop that
// drains it, and gives both an explicit Start/Stop lifecycle.
//
// Typical usage:
//
//	svc := bgwork.NewChannelServiceFunc(processOrder,
//	    bgwork.WithRetryAttempts(5),
//	    bgwork.WithTimeout(time.Minute),
//	)
//	if err := svc.Start(ctx); err != nil { ... }
//	_ = svc.Enqueue(ctx, order)
//	...
//	_ = svc.Stop(shutdownCtx)
//
// Items may be enqueued before Start; they are processed once the loop runs.
// A stopped service cannot be started again.
type ChannelService[T any] struct {
	name     string
	factory  api.HandlerFactory[T]
	observer api.Observer
	queue    *taskqueue.Queue[T]
	cfg      worker.Config[T]
	cfgErr   error

	mu     sync.Mutex
	state  serviceState
	cancel context.CancelFunc
	done   chan struct{}
}

var _ api.Service = (*ChannelService[int])(nil)

// NewChannelService creates a service that builds a fresh handler from
// factory for every attempt. Configuration errors are reported by Start.
func NewChannelService[T any](factory api.HandlerFactory[T], opts ...Option) *ChannelService[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	name := o.name
	if name == "" {
		name = fmt.Sprintf("channel<%s>", reflect.TypeFor[T]())
	}
	observer := o.observer
	if observer == nil {
		observer = api.NoopObserver{}
	}

	cfg, err := buildConfig[T](o)
	return &ChannelService[T]{
		name:     name,
		factory:  factory,
		observer: observer,
		queue:    taskqueue.NewBounded[T](max(o.capacity, 0)),
		cfg:      cfg,
		cfgErr:   err,
	}
}

// NewChannelServiceFunc is NewChannelService for a stateless handler
// function shared by all attempts.
func NewChannelServiceFunc[T any](fn func(ctx context.Context, item T) error, opts ...Option) *ChannelService[T] {
	var factory api.HandlerFactory[T]
	if fn != nil {
		factory = api.Singleton[T](api.HandlerFunc[T](fn))
	}
	return NewChannelService(factory, opts...)
}

// Name returns the name reported to observers.
func (s *ChannelService[T]) Name() string { return s.name }

// Config returns the service configuration.
func (s *ChannelService[T]) Config() worker.Config[T] { return s.cfg }

// Enqueue adds an item. It fails with ErrClosed once Stop has been called.
func (s *ChannelService[T]) Enqueue(ctx context.Context, item T) error {
	return s.queue.Enqueue(ctx, item)
}

// EnqueueMany adds items in order, stopping at the first failure.
func (s *ChannelService[T]) EnqueueMany(ctx context.Context, items []T) error {
	return s.queue.EnqueueMany(ctx, items)
}

// Len returns the number of items waiting in the queue.
func (s *ChannelService[T]) Len() int { return s.queue.Len() }

// Start validates the configuration and launches the worker loop in the
// background. It returns without waiting for any item to be processed.
//
// The loop runs on a context detached from ctx: cancelling ctx does not stop
// the service, Stop does.
func (s *ChannelService[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return api.ErrAlreadyStarted
	case stateStopped:
		return api.ErrServiceStopped
	}

	if s.cfgErr != nil {
		return s.cfgErr
	}
	loop, err := worker.New(s.name, s.factory, s.cfg, s.observer)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = stateRunning

	s.observer.OnServiceStarted(ctx, s.name)

	go func() {
		defer close(s.done)
		_ = loop.Run(runCtx, s.queue.All(runCtx))
	}()

	return nil
}

// Stop shuts the service down.
//
// With draining enabled the queue is closed to new items and Stop waits until
// every buffered item has been handled. If ctx ends first the loop is
// cancelled and Stop returns a *DrainTimeoutError carrying the number of
// dropped items.
//
// With draining disabled the loop is cancelled at once: the attempt in
// flight is aborted and buffered items are dropped. The number of dropped
// items is reported to the observer as a warning, also when ctx ends before
// the loop has exited; Stop then returns ctx.Err().
//
// Stop is idempotent.
func (s *ChannelService[T]) Stop(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	s.state = stateStopped
	s.mu.Unlock()

	switch prev {
	case stateStopped:
		return nil
	case stateIdle:
		s.queue.Close()
		if n := s.queue.Len(); n > 0 {
			s.observer.OnItemsDropped(ctx, s.name, n)
		}
		return nil
	}

	drain := s.cfg.DrainOnShutdown
	s.observer.OnServiceStopping(ctx, s.name, drain, s.queue.Len())
	s.queue.Close()

	var err error
	if drain {
		err = s.waitForDrain(ctx)
	} else {
		err = s.abort(ctx)
	}
	s.cancel()

	s.observer.OnServiceStopped(ctx, s.name, err)
	return err
}

func (s *ChannelService[T]) waitForDrain(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
	}

	s.cancel()
	<-s.done

	dropped := s.queue.Len()
	s.observer.OnItemsDropped(ctx, s.name, dropped)
	return &api.DrainTimeoutError{Dropped: dropped, Err: ctx.Err()}
}

func (s *ChannelService[T]) abort(ctx context.Context) error {
	s.cancel()
	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.observer.OnItemsDropped(ctx, s.name, s.queue.Len())
	return err
}
