package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/bgwork/pkg/broker"
)

// RedisStore keeps all checkpoints as fields of a single hash:
//
//	<prefix>checkpoints  => HASH key -> position
type RedisStore struct {
	client redis.UniversalClient
	hash   string
}

var _ broker.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix defaults to "bgwork:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bgwork:"
	}
	return &RedisStore{client: client, hash: prefix + "checkpoints"}
}

func (s *RedisStore) Load(ctx context.Context, key string) (string, bool, error) {
	pos, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	return pos, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key, position string) error {
	if err := s.client.HSet(ctx, s.hash, key, position).Err(); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}
