package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/bgwork/pkg/broker"
)

// QueueSource consumes a stream through a consumer group.
//
// On the first receive, and after every Abandon, it replays this consumer's
// pending entries before reading new ones, so abandoned entries are
// redelivered and entries left unacknowledged by a previous run are picked
// up again. The client is not closed by Close.
type QueueSource struct {
	client redis.UniversalClient
	opts   Options

	mu         sync.Mutex
	groupReady bool
	replay     bool
	lastClaim  time.Time
	deliveries map[string]int

	closed atomic.Bool
}

var _ broker.Source = (*QueueSource)(nil)

// NewQueueSource validates opts and returns a source. The group is created
// lazily on the first receive.
func NewQueueSource(client redis.UniversalClient, opts Options) (*QueueSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &QueueSource{
		client:     client,
		opts:       opts.withDefaults(),
		replay:     true,
		deliveries: make(map[string]int),
	}, nil
}

func (s *QueueSource) ensureGroup(ctx context.Context) error {
	if s.groupReady {
		return nil
	}
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, s.opts.StartID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redisstream: create group %s on %s: %w", s.opts.Group, s.opts.Stream, err)
	}
	s.groupReady = true
	return nil
}

func (s *QueueSource) Receive(ctx context.Context, max int, wait time.Duration) ([]broker.Message, error) {
	if max <= 0 {
		max = 1
	}

	if s.closed.Load() {
		return nil, broker.ErrSourceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}

	if s.replay {
		msgs, err := s.readPending(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		s.replay = false
	}

	if s.opts.ClaimIdle > 0 && time.Since(s.lastClaim) >= s.opts.ClaimIdle {
		s.lastClaim = time.Now()
		msgs, err := s.claimIdle(ctx, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
	}

	return s.read(ctx, ">", max, blockFor(wait))
}

// blockFor maps a receive wait onto XREADGROUP's BLOCK argument, where 0
// would block forever and a negative value disables blocking.
func blockFor(wait time.Duration) time.Duration {
	if wait <= 0 {
		return -1
	}
	if wait < time.Millisecond {
		return time.Millisecond
	}
	return wait
}

func (s *QueueSource) readPending(ctx context.Context, max int) ([]broker.Message, error) {
	return s.read(ctx, "0", max, -1)
}

func (s *QueueSource) read(ctx context.Context, id string, max int, block time.Duration) ([]broker.Message, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, id},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("redisstream: read %s: %w", s.opts.Stream, err)
	}

	var msgs []broker.Message
	for _, st := range streams {
		for _, x := range st.Messages {
			if x.Values == nil {
				// The entry was trimmed while pending; nothing to deliver.
				_ = s.client.XAck(ctx, s.opts.Stream, s.opts.Group, x.ID).Err()
				continue
			}
			msgs = append(msgs, s.deliver(x, 0))
		}
	}
	return msgs, nil
}

func (s *QueueSource) claimIdle(ctx context.Context, max int) ([]broker.Message, error) {
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.opts.Stream,
		Group:    s.opts.Group,
		MinIdle:  s.opts.ClaimIdle,
		Start:    "0-0",
		Count:    int64(max),
		Consumer: s.opts.Consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstream: claim idle entries on %s: %w", s.opts.Stream, err)
	}

	msgs := make([]broker.Message, 0, len(claimed))
	for _, x := range claimed {
		// Claimed entries were delivered at least once to someone else.
		msgs = append(msgs, s.deliver(x, 1))
	}
	return msgs, nil
}

// deliver counts a delivery. Entries pending from an earlier run have no
// local history; they count as redelivered.
func (s *QueueSource) deliver(x redis.XMessage, floor int) broker.Message {
	n, seen := s.deliveries[x.ID]
	if !seen && s.replay {
		n = 1
	}
	n = max(n, floor) + 1
	s.deliveries[x.ID] = n
	return toMessage(s.opts.Stream, x, n)
}

func (s *QueueSource) Complete(ctx context.Context, msg broker.Message) error {
	return s.ack(ctx, msg)
}

// Abandon leaves the entry pending; it is read again before new entries.
func (s *QueueSource) Abandon(ctx context.Context, msg broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replay = true
	return nil
}

// Reject copies the entry to the dead-letter stream, if one is configured,
// and acknowledges it.
func (s *QueueSource) Reject(ctx context.Context, msg broker.Message, reason error) error {
	if s.opts.DeadLetterStream != "" {
		if err := deadLetter(ctx, s.client, s.opts.DeadLetterStream, msg, reason); err != nil {
			return err
		}
	}
	return s.ack(ctx, msg)
}

func (s *QueueSource) ack(ctx context.Context, msg broker.Message) error {
	if err := s.client.XAck(ctx, s.opts.Stream, s.opts.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("redisstream: ack %s: %w", msg.ID, err)
	}
	s.mu.Lock()
	delete(s.deliveries, msg.ID)
	s.mu.Unlock()
	return nil
}

func (s *QueueSource) Close() error {
	s.closed.Store(true)
	return nil
}
