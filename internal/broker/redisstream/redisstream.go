// Package redisstream implements broker.Source on Redis Streams.
//
// QueueSource uses a consumer group: every entry goes to one consumer,
// completed entries are acknowledged (XACK) and abandoned entries stay in
// the group's pending list until they are read again. LogSource reads the
// stream like a partitioned log and persists the position of the last
// completed entry in a broker.CheckpointStore.
//
// Entries carry the message body in the "body" field; every other field is
// exposed as a message property.
package redisstream

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/broker"
)

// BodyField is the stream entry field holding the message body.
const BodyField = "body"

// Options configures both sources.
type Options struct {
	// Stream is the stream key. Required.
	Stream string

	// Group is the consumer group (QueueSource) or the checkpoint group
	// (LogSource). Required.
	Group string

	// Consumer names this reader inside the group. Defaults to the host name.
	Consumer string

	// StartID is where a new group or a group without a checkpoint starts
	// reading: "0" for the beginning of the stream (default) or "$" for new
	// entries only.
	StartID string

	// ClaimIdle makes QueueSource take over entries another consumer left
	// pending for longer than this. 0 disables claiming.
	ClaimIdle time.Duration

	// DeadLetterStream receives rejected entries. Empty discards them.
	DeadLetterStream string
}

func (o Options) withDefaults() Options {
	if o.Consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "bgwork"
		}
		o.Consumer = host
	}
	if o.StartID == "" {
		o.StartID = "0"
	}
	return o
}

// Validate reports the first invalid field as a *api.ConfigError.
func (o Options) Validate() error {
	switch {
	case o.Stream == "":
		return api.NewConfigError("redisstream", "Stream", "must not be empty")
	case o.Group == "":
		return api.NewConfigError("redisstream", "Group", "must not be empty")
	case o.StartID != "" && o.StartID != "0" && o.StartID != "$":
		return api.NewConfigError("redisstream", "StartID", `must be "0" or "$"`)
	case o.ClaimIdle < 0:
		return api.NewConfigError("redisstream", "ClaimIdle", "must be >= 0")
	case o.DeadLetterStream != "" && o.DeadLetterStream == o.Stream:
		return api.NewConfigError("redisstream", "DeadLetterStream", "must differ from Stream")
	}
	return nil
}

// Publish appends a message to stream and returns the entry ID. maxLen > 0
// trims the stream approximately to that many entries.
func Publish(ctx context.Context, client redis.UniversalClient, stream string, body []byte, props map[string]string, maxLen int64) (string, error) {
	values := make(map[string]any, len(props)+1)
	for k, v := range props {
		values[k] = v
	}
	values[BodyField] = body

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisstream: publish to %s: %w", stream, err)
	}
	return id, nil
}

func toMessage(stream string, x redis.XMessage, deliveries int) broker.Message {
	msg := broker.Message{
		ID:            x.ID,
		Properties:    make(map[string]string, len(x.Values)),
		EnqueuedAt:    entryTime(x.ID),
		DeliveryCount: deliveries,
		Partition:     stream,
		Position:      x.ID,
	}
	for k, v := range x.Values {
		if k == BodyField {
			msg.Body = []byte(fmt.Sprint(v))
			continue
		}
		msg.Properties[k] = fmt.Sprint(v)
	}
	return msg
}

// entryTime extracts the millisecond timestamp from an entry ID
// ("<ms>-<seq>").
func entryTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func deadLetter(ctx context.Context, client redis.UniversalClient, stream string, msg broker.Message, reason error) error {
	props := maps.Clone(msg.Properties)
	if props == nil {
		props = map[string]string{}
	}
	props["dead_letter_source"] = msg.Partition
	props["dead_letter_id"] = msg.ID
	if reason != nil {
		props["dead_letter_reason"] = reason.Error()
	}
	_, err := Publish(ctx, client, stream, msg.Body, props, 0)
	return err
}
