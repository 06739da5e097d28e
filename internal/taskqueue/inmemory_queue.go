package taskqueue

import (
	"context"
	"iter"
	"sync"

	"github.com/petrijr/bgwork/pkg/api"
)

// compactThreshold is the number of consumed slots after which the backing
// slice is compacted.
const compactThreshold = 64

// Queue is a FIFO buffer for many producers and a single consumer.
// It is safe for concurrent use.
//
// A Queue created with New is unbounded and Enqueue never waits. A Queue
// created with NewBounded makes Enqueue wait for free space.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	closed   bool
	capacity int

	ready chan struct{} // an item was appended
	space chan struct{} // an item was removed (bounded queues only)
	done  chan struct{} // closed by Close
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return NewBounded[T](0)
}

// NewBounded creates a queue holding at most capacity items.
// capacity <= 0 means unbounded.
func NewBounded[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

// Enqueue appends item to the queue. It returns api.ErrClosed once the queue
// has been closed. On a bounded queue it waits until space is available,
// the queue is closed, or ctx is done.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return api.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			return err
		}
		if q.capacity == 0 || q.lenLocked() < q.capacity {
			q.items = append(q.items, item)
			roomLeft := q.capacity > 0 && q.lenLocked() < q.capacity
			q.mu.Unlock()

			signal(q.ready)
			if roomLeft {
				// Hand the wake-up on to the next waiting producer.
				signal(q.space)
			}
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.space:
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EnqueueMany enqueues items in order. It stops at the first failure and
// returns its error; items before it remain enqueued.
func (q *Queue[T]) EnqueueMany(ctx context.Context, items []T) error {
	for _, item := range items {
		if err := q.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue removes and returns the next item, blocking while the queue is open
// and empty. It returns ErrDrained once the queue is closed and empty, and
// ctx.Err() if ctx is done first. Cancellation never discards buffered items.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.mu.Lock()
		if q.lenLocked() > 0 {
			item := q.items[q.head]
			q.items[q.head] = zero
			q.head++
			q.compactLocked()
			q.mu.Unlock()

			if q.capacity > 0 {
				signal(q.space)
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrDrained
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *Queue[T]) compactLocked() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= compactThreshold && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// All returns the dequeue stream: a lazy, ordered sequence of items that
// ends once the queue is closed and drained, or as soon as ctx is done.
// Only one consumer may range over the stream at a time.
func (q *Queue[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

// Close stops the queue from accepting new items. Buffered items still
// drain. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Capacity returns the configured capacity, 0 for unbounded queues.
func (q *Queue[T]) Capacity() int {
	return q.capacity
}
