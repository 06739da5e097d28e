package cron

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	robfig "github.com/robfig/cron/v3"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/worker"
)

// minDelay is the wait used when the next occurrence is not in the future.
const minDelay = time.Second

// Service runs a CronHandler on a schedule. It implements api.Service.
type Service struct {
	name     string
	cfg      Config
	factory  api.CronHandlerFactory
	observer api.Observer
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	runs    sync.WaitGroup
}

var _ api.Service = (*Service)(nil)

// New creates a cron service. Configuration errors are reported by Start.
// A nil observer is replaced by api.NoopObserver.
func New(name string, factory api.CronHandlerFactory, cfg Config, observer api.Observer) *Service {
	if name == "" {
		name = "cron"
	}
	if observer == nil {
		observer = api.NoopObserver{}
	}
	return &Service{
		name:     name,
		cfg:      cfg,
		factory:  factory,
		observer: observer,
		now:      time.Now,
	}
}

// NewFunc is New for a stateless handler function.
func NewFunc(name string, fn func(ctx context.Context) error, cfg Config, observer api.Observer) *Service {
	var factory api.CronHandlerFactory
	if fn != nil {
		h := api.CronHandlerFunc(fn)
		factory = func() api.CronHandler { return h }
	}
	return New(name, factory, cfg, observer)
}

func (s *Service) Name() string { return s.name }

// Start parses the schedule and starts the scheduling loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return api.ErrServiceStopped
	}
	if s.started {
		return api.ErrAlreadyStarted
	}
	if s.factory == nil {
		return api.NewConfigError("cron", "HandlerFactory", "must not be nil")
	}
	sched, err := s.cfg.schedule()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	s.observer.OnServiceStarted(ctx, s.name)
	go s.loop(runCtx, sched)
	return nil
}

func (s *Service) loop(ctx context.Context, sched robfig.Schedule) {
	defer close(s.done)

	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}

	for {
		now := s.now().In(loc)
		next := sched.Next(now)
		if next.IsZero() {
			// The schedule has no further occurrences.
			return
		}
		s.observer.OnTickScheduled(ctx, s.name, next)

		delay := next.Sub(now)
		if delay <= 0 {
			delay = minDelay
		}
		if err := worker.Sleep(ctx, delay); err != nil {
			return
		}

		if s.cfg.WaitForCompletion {
			s.run(ctx)
			continue
		}
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			s.run(ctx)
		}()
	}
}

func (s *Service) run(ctx context.Context) {
	d := api.Delivery{
		Service:     s.name,
		ID:          uuid.NewString(),
		Attempt:     1,
		MaxAttempts: 1,
	}
	s.observer.OnAttemptStart(ctx, d)

	start := time.Now()
	err := worker.Invoke(ctx, s.cfg.Timeout, func(ctx context.Context) error {
		return s.factory().Handle(ctx)
	})
	switch {
	case err == nil:
		s.observer.OnItemCompleted(ctx, d, time.Since(start))
	case ctx.Err() != nil:
		s.observer.OnItemCancelled(ctx, d, ctx.Err())
	default:
		s.observer.OnItemFailed(ctx, d, err)
	}
}

// Stop cancels the schedule and any run in progress, then waits for the loop
// and background runs to exit or for ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	s.observer.OnServiceStopping(ctx, s.name, false, 0)
	s.cancel()

	exited := make(chan struct{})
	go func() {
		<-s.done
		s.runs.Wait()
		close(exited)
	}()

	var err error
	select {
	case <-exited:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.observer.OnServiceStopped(ctx, s.name, err)
	return err
}
