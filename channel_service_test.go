package bgwork

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/bgwork/pkg/api"
)

type lifecycleRecorder struct {
	api.NoopObserver

	mu       sync.Mutex
	events   []string
	dropped  []int
	stopping []bool
}

func (r *lifecycleRecorder) record(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *lifecycleRecorder) OnServiceStarted(ctx context.Context, service string) {
	r.record("started")
}

func (r *lifecycleRecorder) OnServiceStopping(ctx context.Context, service string, drain bool, pending int) {
	r.mu.Lock()
	r.stopping = append(r.stopping, drain)
	r.mu.Unlock()
	r.record("stopping")
}

func (r *lifecycleRecorder) OnServiceStopped(ctx context.Context, service string, err error) {
	r.record("stopped")
}

func (r *lifecycleRecorder) OnItemsDropped(ctx context.Context, service string, pending int) {
	r.mu.Lock()
	r.dropped = append(r.dropped, pending)
	r.mu.Unlock()
	r.record("dropped")
}

func (r *lifecycleRecorder) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]int(nil), r.dropped...)
}

func stopCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestChannelService_DrainHandlesAllBufferedItems(t *testing.T) {
	var mu sync.Mutex
	var handled []int

	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		handled = append(handled, item)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2, 3, 4, 5}))

	require.NoError(t, svc.Stop(stopCtx(t, 5*time.Second)))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, handled)
	require.Equal(t, 0, svc.Len())
}

func TestChannelService_StopWithoutDrainReportsDroppedItems(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var handled atomic.Int32
	var cancelled atomic.Int32
	rec := &lifecycleRecorder{}
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error {
		handled.Add(1)
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return ctx.Err()
		case <-release:
			return nil
		}
	},
		WithDrainOnShutdown(false),
		WithObserver(rec),
	)

	ctx := context.Background()
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2, 3, 4, 5}))
	require.NoError(t, svc.Start(ctx))

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, svc.Stop(stopCtx(t, 5*time.Second)))

	events, dropped := rec.snapshot()
	require.Equal(t, []string{"started", "stopping", "dropped", "stopped"}, events)
	require.Equal(t, []int{4}, dropped)
	require.Equal(t, int32(1), handled.Load(), "no further items after cancellation")
	require.Eventually(t, func() bool { return cancelled.Load() == 1 }, time.Second, time.Millisecond,
		"in-flight attempt must observe cancellation")
}

// stalledCancelRecorder blocks the loop in OnItemCancelled until released.
type stalledCancelRecorder struct {
	*lifecycleRecorder
	release chan struct{}
}

func (r stalledCancelRecorder) OnItemCancelled(ctx context.Context, d api.Delivery, err error) {
	<-r.release
}

func TestChannelService_StopWithoutDrainReportsDroppedItemsWhenStopTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	started := make(chan struct{}, 1)
	rec := &lifecycleRecorder{}
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	},
		WithDrainOnShutdown(false),
		WithObserver(stalledCancelRecorder{lifecycleRecorder: rec, release: release}),
	)

	ctx := context.Background()
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2, 3, 4, 5}))
	require.NoError(t, svc.Start(ctx))
	<-started

	err := svc.Stop(stopCtx(t, 50*time.Millisecond))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	events, dropped := rec.snapshot()
	require.Equal(t, []string{"started", "stopping", "dropped", "stopped"}, events)
	require.Equal(t, []int{4}, dropped)
}

func TestChannelService_DrainTimeoutCancelsLoop(t *testing.T) {
	rec := &lifecycleRecorder{}
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(time.Hour), WithObserver(rec))

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2, 3}))
	require.Eventually(t, func() bool { return svc.Len() == 2 }, time.Second, time.Millisecond)

	err := svc.Stop(stopCtx(t, 50*time.Millisecond))

	var dte *api.DrainTimeoutError
	require.ErrorAs(t, err, &dte)
	require.Equal(t, 2, dte.Dropped)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, dropped := rec.snapshot()
	require.Equal(t, []int{2}, dropped)
}

func TestChannelService_EnqueueAfterStopFails(t *testing.T) {
	svc := NewChannelServiceFunc(func(ctx context.Context, item string) error { return nil })

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(stopCtx(t, time.Second)))

	for range 3 {
		require.ErrorIs(t, svc.Enqueue(ctx, "late"), ErrClosed)
	}
	require.ErrorIs(t, svc.EnqueueMany(ctx, []string{"a", "b"}), ErrClosed)
}

func TestChannelService_LifecycleTransitions(t *testing.T) {
	svc := NewChannelServiceFunc(func(ctx context.Context, item string) error { return nil })
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.ErrorIs(t, svc.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, svc.Stop(stopCtx(t, time.Second)))
	require.NoError(t, svc.Stop(stopCtx(t, time.Second)), "Stop must be idempotent")

	require.ErrorIs(t, svc.Start(ctx), ErrServiceStopped)
}

func TestChannelService_StartContextDoesNotStopLoop(t *testing.T) {
	handled := make(chan string, 1)
	svc := NewChannelServiceFunc(func(ctx context.Context, item string) error {
		handled <- item
		return nil
	})

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(startCtx))
	cancel()

	require.NoError(t, svc.Enqueue(context.Background(), "after-cancel"))
	select {
	case got := <-handled:
		require.Equal(t, "after-cancel", got)
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped with the start context")
	}
	require.NoError(t, svc.Stop(stopCtx(t, time.Second)))
}

func TestChannelService_ConfigErrorsFailStart(t *testing.T) {
	handler := func(ctx context.Context, item int) error { return nil }

	cases := []struct {
		name string
		svc  *ChannelService[int]
	}{
		{"negative retries", NewChannelServiceFunc(handler, WithRetryAttempts(-1))},
		{"negative delay", NewChannelServiceFunc(handler, WithRetryDelay(-time.Second))},
		{"zero timeout", NewChannelServiceFunc(handler, WithTimeout(0))},
		{"negative capacity", NewChannelServiceFunc(handler, WithCapacity(-1))},
		{"callback type mismatch", NewChannelServiceFunc(handler,
			WithOnError(func(ctx context.Context, err error, item string) error { return nil }))},
		{"nil handler", NewChannelServiceFunc[int](nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.svc.Start(context.Background())
			require.True(t, IsConfigError(err), "expected config error, got %v", err)

			// A failed start leaves the service unstarted.
			require.NoError(t, tc.svc.Stop(context.Background()))
		})
	}
}

func TestChannelService_ExhaustedItemsReachCallback(t *testing.T) {
	boom := errors.New("boom")

	type failure struct {
		item int
		err  error
	}
	failures := make(chan failure, 4)

	metrics := &BasicMetrics{}
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return boom
		}
		return nil
	},
		WithRetry(Retry(1).Immediate().Policy()),
		WithOnError(func(ctx context.Context, err error, item int) error {
			failures <- failure{item: item, err: err}
			return nil
		}),
		WithObserver(metrics),
	)

	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2, 3, 4}))
	require.NoError(t, svc.Stop(stopCtx(t, 5*time.Second)))
	close(failures)

	var items []int
	for f := range failures {
		items = append(items, f.item)
		require.ErrorIs(t, f.err, boom)
	}
	require.Equal(t, []int{2, 4}, items)

	snap := metrics.Snapshot()
	require.Equal(t, int64(6), snap.AttemptsStarted)
	require.Equal(t, int64(2), snap.ItemsCompleted)
	require.Equal(t, int64(2), snap.ItemsFailed)
}

func TestChannelService_BoundedCapacityAppliesBackpressure(t *testing.T) {
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error { return nil },
		WithCapacity(2),
	)

	ctx := context.Background()
	require.NoError(t, svc.EnqueueMany(ctx, []int{1, 2}))

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Enqueue(full, 3), context.DeadlineExceeded)

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Enqueue(ctx, 3))
	require.NoError(t, svc.Stop(stopCtx(t, time.Second)))
}

func TestChannelService_DefaultName(t *testing.T) {
	svc := NewChannelServiceFunc(func(ctx context.Context, item string) error { return nil })
	require.Equal(t, "channel<string>", svc.Name())

	named := NewChannelServiceFunc(func(ctx context.Context, item string) error { return nil }, WithName("emails"))
	require.Equal(t, "emails", named.Name())
}

func TestChannelService_StopBeforeStartReportsBufferedItems(t *testing.T) {
	rec := &lifecycleRecorder{}
	svc := NewChannelServiceFunc(func(ctx context.Context, item int) error { return nil }, WithObserver(rec))

	require.NoError(t, svc.EnqueueMany(context.Background(), []int{1, 2}))
	require.NoError(t, svc.Stop(context.Background()))

	_, dropped := rec.snapshot()
	require.Equal(t, []int{2}, dropped)
	require.ErrorIs(t, svc.Start(context.Background()), ErrServiceStopped)
}
