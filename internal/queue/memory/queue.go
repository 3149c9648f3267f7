// Package memory provides an in-process crawl request queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A target
// that is already waiting in the queue is not enqueued a second time.
type Queue struct {
	ch   chan crawler.QueueItem
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:      make(chan crawler.QueueItem, capacity),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Enqueue pushes item or returns if the context ends first.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, dup := q.pending[item.TargetID]; dup {
		q.mu.Unlock()
		return nil
	}
	q.pending[item.TargetID] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.forget(item.TargetID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.forget(item.TargetID)
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.QueueItem{}, ErrClosed
	case item := <-q.ch:
		q.forget(item.TargetID)
		return item, nil
	}
}

// Len reports the number of waiting items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Waiting callers return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) forget(targetID string) {
	q.mu.Lock()
	delete(q.pending, targetID)
	q.mu.Unlock()
}
