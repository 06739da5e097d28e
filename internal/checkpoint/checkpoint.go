// Package checkpoint provides broker.CheckpointStore implementations.
//
// A checkpoint maps a key (see broker.CheckpointKey) to the position of the
// last message a consumer group finished. Stores overwrite on Save; Load
// reports ok=false for a key that was never saved.
package checkpoint

import (
	"context"
	"sync"

	"github.com/petrijr/bgwork/pkg/broker"
)

// MemoryStore keeps checkpoints in a map. Positions do not survive a
// restart.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]string
}

var _ broker.CheckpointStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[string]string)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[key]
	return pos, ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, key, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[key] = position
	return nil
}
