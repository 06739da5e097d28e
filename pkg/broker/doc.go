// Package broker consumes messages from an external broker and feeds them
// to a typed handler.
//
// A Consumer pulls batches from a Source, optionally filters them with a
// CEL expression, decodes the body with a Codec and invokes a fresh
// api.MessageHandler per message. Settlement follows the handler outcome:
//
//   - success completes the message (acknowledge, or checkpoint after success)
//   - failure or timeout abandons it so the broker redelivers it
//   - a body that cannot be decoded is rejected and not redelivered
//   - a message that does not match the filter is completed unhandled
//
// Receive errors are reported and retried with exponential backoff; the
// consumer never stops on its own.
//
// Source implementations live in internal packages and are constructed
// through the bgwork package: Redis Streams consumer groups, Redis Streams
// with checkpoints, and RabbitMQ queues. MemorySource is an in-process
// Source for tests and local wiring.
package broker
