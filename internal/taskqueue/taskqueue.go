// Package taskqueue implements the in-memory buffer that feeds a worker loop.
//
// A Queue accepts items from any number of producers and hands them, in
// enqueue order, to exactly one consumer. Closing a queue stops new
// enqueues; items that are already buffered still drain.
package taskqueue

import "errors"

// ErrDrained is returned by Dequeue once the queue is closed and empty.
var ErrDrained = errors.New("taskqueue: queue closed and drained")
