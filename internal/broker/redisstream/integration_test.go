package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/bgwork/internal/checkpoint"
	"github.com/petrijr/bgwork/internal/testutil"
	"github.com/petrijr/bgwork/pkg/broker"
)

type RedisStreamTestSuite struct {
	suite.Suite
	client *redis.Client
	ctx    context.Context
}

func TestRedisStreamSuite(t *testing.T) {
	s := new(RedisStreamTestSuite)
	s.client = redis.NewClient(&redis.Options{Addr: testutil.GetRedisAddress(t)})
	t.Cleanup(func() { _ = s.client.Close() })
	s.ctx = context.Background()
	require.NoError(t, s.client.Ping(s.ctx).Err())
	suite.Run(t, s)
}

func (s *RedisStreamTestSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(s.ctx).Err())
}

func (s *RedisStreamTestSuite) publish(body string, props map[string]string) string {
	id, err := Publish(s.ctx, s.client, "orders", []byte(body), props, 0)
	s.Require().NoError(err)
	return id
}

func (s *RedisStreamTestSuite) pending() int64 {
	p, err := s.client.XPending(s.ctx, "orders", "billing").Result()
	s.Require().NoError(err)
	return p.Count
}

func (s *RedisStreamTestSuite) TestQueue_CompleteAcknowledges() {
	src, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing", Consumer: "c1"})
	s.Require().NoError(err)

	id := s.publish(`{"id":"o-1"}`, map[string]string{"type": "order"})

	msgs, err := src.Receive(s.ctx, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(id, msgs[0].ID)
	s.Equal("order", msgs[0].Properties["type"])
	s.Equal(1, msgs[0].DeliveryCount)
	s.Equal(int64(1), s.pending())

	s.Require().NoError(src.Complete(s.ctx, msgs[0]))
	s.Equal(int64(0), s.pending())
}

func (s *RedisStreamTestSuite) TestQueue_AbandonRedelivers() {
	src, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing", Consumer: "c1"})
	s.Require().NoError(err)

	id := s.publish(`{}`, nil)
	msgs, err := src.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)

	s.Require().NoError(src.Abandon(s.ctx, msgs[0]))

	again, err := src.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(again, 1)
	s.Equal(id, again[0].ID)
	s.Equal(2, again[0].DeliveryCount)
}

func (s *RedisStreamTestSuite) TestQueue_PendingEntriesReplayAfterRestart() {
	first, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing", Consumer: "c1"})
	s.Require().NoError(err)
	id := s.publish(`{}`, nil)

	msgs, err := first.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Require().NoError(first.Close())

	second, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing", Consumer: "c1"})
	s.Require().NoError(err)
	msgs, err = second.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(id, msgs[0].ID)
	s.Equal(2, msgs[0].DeliveryCount)
}

func (s *RedisStreamTestSuite) TestQueue_ClaimsIdleEntriesOfOtherConsumers() {
	crashed, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing", Consumer: "crashed"})
	s.Require().NoError(err)
	id := s.publish(`{}`, nil)
	_, err = crashed.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)

	time.Sleep(50 * time.Millisecond)

	rescuer, err := NewQueueSource(s.client, Options{
		Stream: "orders", Group: "billing", Consumer: "rescuer", ClaimIdle: 20 * time.Millisecond,
	})
	s.Require().NoError(err)
	msgs, err := rescuer.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(id, msgs[0].ID)
	s.GreaterOrEqual(msgs[0].DeliveryCount, 2)
}

func (s *RedisStreamTestSuite) TestQueue_RejectDeadLetters() {
	src, err := NewQueueSource(s.client, Options{
		Stream: "orders", Group: "billing", Consumer: "c1", DeadLetterStream: "orders:dead",
	})
	s.Require().NoError(err)
	id := s.publish(`not json`, map[string]string{"type": "order"})

	msgs, err := src.Receive(s.ctx, 1, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().NoError(src.Reject(s.ctx, msgs[0], errors.New("poison")))

	s.Equal(int64(0), s.pending())
	dead, err := s.client.XRange(s.ctx, "orders:dead", "-", "+").Result()
	s.Require().NoError(err)
	s.Require().Len(dead, 1)
	s.Equal("not json", dead[0].Values[BodyField])
	s.Equal(id, dead[0].Values["dead_letter_id"])
	s.Equal("poison", dead[0].Values["dead_letter_reason"])
}

func (s *RedisStreamTestSuite) TestConsumer_PoisonEntryIsDeadLetteredAndQueueMovesOn() {
	src, err := NewQueueSource(s.client, Options{
		Stream: "orders", Group: "billing", Consumer: "c1", DeadLetterStream: "orders:dead",
	})
	s.Require().NoError(err)

	type order struct {
		ID string `json:"id"`
	}
	var mu sync.Mutex
	calls := map[string]int{}

	cfg := broker.DefaultConfig()
	cfg.MaxWait = 50 * time.Millisecond
	cfg.MaxDeliveries = 3
	cfg.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	c := broker.NewConsumerFunc("orders", src, func(ctx context.Context, o order, _ map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		calls[o.ID]++
		if o.ID == "poison" {
			return errors.New("cannot handle")
		}
		return nil
	}, cfg, nil)

	poison := s.publish(`{"id":"poison"}`, nil)
	s.Require().NoError(c.Start(s.ctx))
	s.publish(`{"id":"good"}`, nil)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["good"] == 1
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(c.Stop(stopCtx))

	s.Equal(3, calls["poison"])
	s.Equal(int64(0), s.pending())
	dead, err := s.client.XRange(s.ctx, "orders:dead", "-", "+").Result()
	s.Require().NoError(err)
	s.Require().Len(dead, 1)
	s.Equal(poison, dead[0].Values["dead_letter_id"])
	s.Equal("bgwork: all 3 attempts failed: cannot handle", dead[0].Values["dead_letter_reason"])
}

func (s *RedisStreamTestSuite) TestQueue_ReceiveAfterCloseFails() {
	src, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing"})
	s.Require().NoError(err)
	s.Require().NoError(src.Close())
	_, err = src.Receive(s.ctx, 1, time.Millisecond)
	s.ErrorIs(err, broker.ErrSourceClosed)
}

func (s *RedisStreamTestSuite) TestLog_ResumesFromCheckpoint() {
	store := checkpoint.NewRedisStore(s.client, "bgwork:test:")
	opts := Options{Stream: "orders", Group: "audit"}

	ids := []string{s.publish(`1`, nil), s.publish(`2`, nil), s.publish(`3`, nil)}

	src, err := NewLogSource(s.client, store, opts)
	s.Require().NoError(err)
	msgs, err := src.Receive(s.ctx, 2, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Require().NoError(src.Complete(s.ctx, msgs[0]))
	s.Require().NoError(src.Close())

	pos, ok, err := store.Load(s.ctx, broker.CheckpointKey("orders", "audit"))
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(ids[0], pos)

	resumed, err := NewLogSource(s.client, store, opts)
	s.Require().NoError(err)
	msgs, err = resumed.Receive(s.ctx, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Equal(ids[1], msgs[0].ID)
	s.Equal(ids[2], msgs[1].ID)
}

func (s *RedisStreamTestSuite) TestLog_AbandonRewindsToCheckpoint() {
	store := checkpoint.NewMemoryStore()
	src, err := NewLogSource(s.client, store, Options{Stream: "orders", Group: "audit"})
	s.Require().NoError(err)

	first := s.publish(`1`, nil)
	second := s.publish(`2`, nil)

	msgs, err := src.Receive(s.ctx, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Require().NoError(src.Complete(s.ctx, msgs[0]))
	s.Require().NoError(src.Abandon(s.ctx, msgs[1]))

	msgs, err = src.Receive(s.ctx, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(second, msgs[0].ID)
	s.Equal(2, msgs[0].DeliveryCount)

	pos, _, err := store.Load(s.ctx, broker.CheckpointKey("orders", "audit"))
	s.Require().NoError(err)
	s.Equal(first, pos)
}

func (s *RedisStreamTestSuite) TestLog_StartAtTailSkipsHistory() {
	s.publish(`old`, nil)

	src, err := NewLogSource(s.client, checkpoint.NewMemoryStore(), Options{Stream: "orders", Group: "audit", StartID: "$"})
	s.Require().NoError(err)
	msgs, err := src.Receive(s.ctx, 10, 20*time.Millisecond)
	s.Require().NoError(err)
	s.Empty(msgs)

	id := s.publish(`new`, nil)
	msgs, err = src.Receive(s.ctx, 10, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal(id, msgs[0].ID)
}

func (s *RedisStreamTestSuite) TestConsumerOverQueueSource() {
	src, err := NewQueueSource(s.client, Options{Stream: "orders", Group: "billing"})
	s.Require().NoError(err)

	type order struct {
		ID string `json:"id"`
	}
	var mu sync.Mutex
	var got []string

	cfg := broker.DefaultConfig()
	cfg.MaxWait = 50 * time.Millisecond
	cfg.NewBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	c := broker.NewConsumerFunc("orders", src, func(ctx context.Context, o order, _ map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, o.ID)
		return nil
	}, cfg, nil)

	s.Require().NoError(c.Start(s.ctx))
	s.publish(`{"id":"a"}`, nil)
	s.publish(`{"id":"b"}`, nil)

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(c.Stop(stopCtx))

	s.Equal([]string{"a", "b"}, got)
	s.Equal(int64(0), s.pending())
}
