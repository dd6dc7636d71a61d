package queue

import (
	"context"
	"sync"
	"time"

	"github.com/Aman-CERP/docsearch/internal/action"
)

// MemoryQueue is an in-process ActionQueue. Queued actions are lost on crash.
type MemoryQueue struct {
	ch      chan action.Action
	timeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

var _ ActionQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	opts = opts.withDefaults()
	return &MemoryQueue{
		ch:      make(chan action.Action, opts.Capacity),
		timeout: opts.EnqueueTimeout,
		done:    make(chan struct{}),
	}
}

// Enqueue implements ActionQueue.
func (q *MemoryQueue) Enqueue(ctx context.Context, a action.Action) bool {
	if a == nil {
		return false
	}
	select {
	case <-q.done:
		return false
	default:
	}

	// Fast path: room available
	select {
	case q.ch <- a:
		return true
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case q.ch <- a:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
}

// Dequeue implements ActionQueue.
func (q *MemoryQueue) Dequeue() (action.Action, bool) {
	select {
	case a := <-q.ch:
		return a, true
	default:
		return nil, false
	}
}

// Size implements ActionQueue.
func (q *MemoryQueue) Size() int {
	return len(q.ch)
}

// Close rejects further enqueues. Actions already queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
