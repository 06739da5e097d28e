package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/petrijr/bgwork/pkg/broker"
)

const pebblePrefix = "checkpoint/"

// PebbleStore keeps checkpoints in an embedded Pebble database. Every Save
// is synced to disk.
type PebbleStore struct {
	db *pebble.DB
}

var _ broker.CheckpointStore = (*PebbleStore)(nil)

// OpenPebbleStore opens (or creates) the database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Load(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, closer, err := s.db.Get([]byte(pebblePrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: load %s: %w", key, err)
	}
	defer closer.Close()
	return string(v), true, nil
}

func (s *PebbleStore) Save(ctx context.Context, key, position string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Set([]byte(pebblePrefix+key), []byte(position), pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", key, err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
