// Package queue buffers mutations between API acceptance and engine
// execution. Producers block for a bounded time when the buffer is full,
// which is the backpressure that keeps memory in check when writers
// outpace the engines.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/docsearch/internal/action"
)

// Defaults for both implementations.
const (
	DefaultCapacity       = 1024
	DefaultEnqueueTimeout = 5 * time.Second
)

// ActionQueue is a bounded FIFO of pending actions with one consumer.
type ActionQueue interface {
	// Enqueue waits up to the enqueue timeout for room and reports whether
	// the action was accepted. It returns false on timeout, cancellation
	// or after Close.
	Enqueue(ctx context.Context, a action.Action) bool
	// Dequeue returns the oldest action without blocking.
	Dequeue() (action.Action, bool)
	// Size returns the current depth.
	Size() int
	Close() error
}

// Options configures a queue.
type Options struct {
	Capacity       int
	EnqueueTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = DefaultCapacity
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = DefaultEnqueueTimeout
	}
	return o
}

// Open builds the queue implementation named by kind: "memory" or "sqlite".
// path is only used by sqlite.
func Open(kind, path string, opts Options) (ActionQueue, error) {
	switch kind {
	case "", "memory":
		return NewMemoryQueue(opts), nil
	case "sqlite":
		return NewSQLiteQueue(path, opts)
	}
	return nil, fmt.Errorf("unknown queue type %q", kind)
}
