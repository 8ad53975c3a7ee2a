// Package sched drains dirty chunks to the store on background workers,
// coalescing redundant writes and retrying failures with bounded backoff.
package sched

import (
	"context"
	"sync"

	"github.com/infinitejournal/engine/internal/canvas"
)

// Queue is a keyed coalescing work queue. Enqueuing a key already queued
// bumps its pending target version instead of adding a second entry, so a
// chunk dirtied many times before a worker reaches it is written once, for
// its latest state.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[canvas.ChunkKey]uint64
	order   []canvas.ChunkKey
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{pending: make(map[canvas.ChunkKey]uint64)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds or coalesces a work item for (key, at-least-this-version).
func (q *Queue) Enqueue(key canvas.ChunkKey, version uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cur, ok := q.pending[key]; ok {
		if version > cur {
			q.pending[key] = version
		}
		return
	}
	q.pending[key] = version
	q.order = append(q.order, key)
	q.cond.Signal()
}

// Dequeue blocks until an item is available or the context is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (canvas.ChunkKey, uint64, error) {
	// Watcher wakes the cond wait on cancellation; exits when Dequeue returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-stop:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return canvas.ChunkKey{}, 0, err
		}
		if len(q.order) > 0 {
			key := q.order[0]
			q.order = q.order[1:]
			version := q.pending[key]
			delete(q.pending, key)
			return key, version, nil
		}
		q.cond.Wait()
	}
}

// TryDequeue returns the next item without blocking.
func (q *Queue) TryDequeue() (canvas.ChunkKey, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) == 0 {
		return canvas.ChunkKey{}, 0, false
	}
	key := q.order[0]
	q.order = q.order[1:]
	version := q.pending[key]
	delete(q.pending, key)
	return key, version, true
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Keys returns the queued keys in order, without consuming them.
func (q *Queue) Keys() []canvas.ChunkKey {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]canvas.ChunkKey, len(q.order))
	copy(out, q.order)
	return out
}
