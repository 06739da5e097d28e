package broker

import (
	"context"
	"errors"
	"time"
)

// ErrSourceClosed is returned by Receive once a source has been closed.
var ErrSourceClosed = errors.New("broker: source closed")

// Message is a single broker message as seen by the consumer.
type Message struct {
	// ID is the broker-assigned message ID.
	ID string

	// Body is the raw payload.
	Body []byte

	// Properties are the application properties (headers).
	Properties map[string]string

	// EnqueuedAt is when the broker accepted the message, if known.
	EnqueuedAt time.Time

	// DeliveryCount is how many times the message has been delivered,
	// including this delivery. 0 when the broker does not track it.
	DeliveryCount int

	// Partition and Position locate the message in a log-style source.
	// Position is what a checkpoint store persists.
	Partition string
	Position  string

	// Receipt is source-specific settlement state.
	Receipt any
}

// Source is the broker-facing side of a Consumer.
//
// A Consumer calls Receive from a single goroutine and settles every
// returned message exactly once with Complete, Abandon or Reject.
type Source interface {
	// Receive returns up to max messages, waiting at most wait for the
	// first one. An empty result is not an error.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Complete marks the message as processed.
	Complete(ctx context.Context, msg Message) error

	// Abandon releases the message for redelivery.
	Abandon(ctx context.Context, msg Message) error

	// Reject removes a message that can never be processed.
	Reject(ctx context.Context, msg Message, reason error) error

	// Close releases the source's resources. It may be called while a
	// Receive or settlement call is in progress; those calls then return
	// an error, or ErrSourceClosed for Receive.
	Close() error
}

// CheckpointStore persists the position of the last processed message per
// key, so a log-style source can resume after a restart.
type CheckpointStore interface {
	// Load returns the stored position. ok is false when nothing was saved.
	Load(ctx context.Context, key string) (position string, ok bool, err error)

	// Save stores the position for key, replacing any previous value.
	Save(ctx context.Context, key, position string) error
}

// CheckpointKey builds the key a log-style source uses for its checkpoint.
func CheckpointKey(stream, group string) string {
	return stream + "/" + group
}
