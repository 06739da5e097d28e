package broker

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/petrijr/bgwork/internal/taskqueue"
)

// MemorySource is an in-process Source. Abandoned messages are redelivered
// after the ones already waiting; rejected messages are kept for
// inspection.
type MemorySource struct {
	queue *taskqueue.Queue[Message]

	mu        sync.Mutex
	seq       int
	completed []Message
	rejected  []Message
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{queue: taskqueue.New[Message]()}
}

// Publish adds a message. An empty ID is replaced by a sequence number.
func (s *MemorySource) Publish(ctx context.Context, msg Message) error {
	s.mu.Lock()
	s.seq++
	if msg.ID == "" {
		msg.ID = strconv.Itoa(s.seq)
	}
	s.mu.Unlock()

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	return s.queue.Enqueue(ctx, msg)
}

// PublishValue encodes v with codec and publishes it.
func (s *MemorySource) PublishValue(ctx context.Context, codec Codec, v any, props map[string]string) error {
	if codec == nil {
		codec = JSON
	}
	body, err := codec.Encode(v)
	if err != nil {
		return err
	}
	return s.Publish(ctx, Message{Body: body, Properties: props})
}

func (s *MemorySource) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	if wait <= 0 && s.queue.Len() == 0 {
		return nil, ctx.Err()
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if wait > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, wait)
	}
	defer cancel()

	first, err := s.queue.Dequeue(waitCtx)
	if errors.Is(err, taskqueue.ErrDrained) {
		return nil, ErrSourceClosed
	}
	if err != nil {
		// The wait elapsed.
		return nil, ctx.Err()
	}

	msgs := []Message{deliver(first)}
	for len(msgs) < max && s.queue.Len() > 0 {
		next, err := s.queue.Dequeue(ctx)
		if err != nil {
			break
		}
		msgs = append(msgs, deliver(next))
	}
	return msgs, nil
}

func deliver(m Message) Message {
	m.DeliveryCount++
	return m
}

func (s *MemorySource) Complete(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, msg)
	return nil
}

func (s *MemorySource) Abandon(ctx context.Context, msg Message) error {
	return s.queue.Enqueue(context.WithoutCancel(ctx), msg)
}

func (s *MemorySource) Reject(ctx context.Context, msg Message, reason error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, msg)
	return nil
}

// Close stops accepting new messages. Messages already published can still
// be received.
func (s *MemorySource) Close() error {
	s.queue.Close()
	return nil
}

// Pending returns the number of messages waiting for delivery.
func (s *MemorySource) Pending() int { return s.queue.Len() }

// Completed returns the completed messages in settlement order.
func (s *MemorySource) Completed() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.completed...)
}

// Rejected returns the rejected messages in settlement order.
func (s *MemorySource) Rejected() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.rejected...)
}
