package redisstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/bgwork/pkg/broker"
)

// LogSource reads a stream without a consumer group. Progress is the ID of
// the last completed entry, saved to the checkpoint store under
// broker.CheckpointKey(Stream, Group) after every Complete or Reject.
//
// Abandon rewinds the read cursor to the last checkpoint, so the abandoned
// entry and everything after it are read again.
type LogSource struct {
	client      redis.UniversalClient
	checkpoints broker.CheckpointStore
	opts        Options
	key         string

	mu         sync.Mutex
	loaded     bool
	cursor     string
	checkpoint string
	deliveries map[string]int

	closed atomic.Bool
}

var _ broker.Source = (*LogSource)(nil)

// NewLogSource validates opts and returns a source that resumes from the
// checkpoint in store, or from opts.StartID when there is none.
func NewLogSource(client redis.UniversalClient, store broker.CheckpointStore, opts Options) (*LogSource, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("redisstream: log source needs a checkpoint store")
	}
	opts = opts.withDefaults()
	return &LogSource{
		client:      client,
		checkpoints: store,
		opts:        opts,
		key:         broker.CheckpointKey(opts.Stream, opts.Group),
		deliveries:  make(map[string]int),
	}, nil
}

func (s *LogSource) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	pos, ok, err := s.checkpoints.Load(ctx, s.key)
	if err != nil {
		return err
	}
	if !ok {
		pos = s.opts.StartID
		if pos == "$" {
			// Pin "$" to a concrete ID so a rewind does not skip entries
			// added in the meantime.
			last, err := s.client.XRevRangeN(ctx, s.opts.Stream, "+", "-", 1).Result()
			if err != nil {
				return fmt.Errorf("redisstream: read tail of %s: %w", s.opts.Stream, err)
			}
			pos = "0"
			if len(last) > 0 {
				pos = last[0].ID
			}
		}
	}
	s.cursor, s.checkpoint = pos, pos
	s.loaded = true
	return nil
}

func (s *LogSource) Receive(ctx context.Context, max int, wait time.Duration) ([]broker.Message, error) {
	if max <= 0 {
		max = 1
	}
	if s.closed.Load() {
		return nil, broker.ErrSourceClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return nil, err
	}

	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.opts.Stream, s.cursor},
		Count:   int64(max),
		Block:   blockFor(wait),
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
			s.deliveries[x.ID]++
			msgs = append(msgs, toMessage(s.opts.Stream, x, s.deliveries[x.ID]))
			s.cursor = x.ID
		}
	}
	return msgs, nil
}

func (s *LogSource) Complete(ctx context.Context, msg broker.Message) error {
	return s.save(ctx, msg)
}

func (s *LogSource) Abandon(ctx context.Context, msg broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = s.checkpoint
	return nil
}

// Reject moves the checkpoint past a message that can never be handled,
// copying it to the dead-letter stream first when one is configured.
func (s *LogSource) Reject(ctx context.Context, msg broker.Message, reason error) error {
	if s.opts.DeadLetterStream != "" {
		if err := deadLetter(ctx, s.client, s.opts.DeadLetterStream, msg, reason); err != nil {
			return err
		}
	}
	return s.save(ctx, msg)
}

func (s *LogSource) save(ctx context.Context, msg broker.Message) error {
	if err := s.checkpoints.Save(ctx, s.key, msg.ID); err != nil {
		return fmt.Errorf("redisstream: checkpoint %s at %s: %w", s.key, msg.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = msg.ID
	delete(s.deliveries, msg.ID)
	return nil
}

func (s *LogSource) Close() error {
	s.closed.Store(true)
	return nil
}
