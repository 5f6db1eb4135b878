// Package queue is the bounded FIFO channel between the poll loop and the
// apply loop. Capacity is counted in batches, so the buffer holds at most
// capacity*batch_size records; a full queue blocks the producer, which is
// the backpressure that keeps the reader from running ahead of the writer.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/snapflowio/docbridge/changelog"
)

var (
	ErrClosed         = errors.New("queue is closed")
	ErrEnqueueTimeout = errors.New("enqueue timed out, queue is full")
)

// Item carries one batch plus the poll generation it was read under. The
// apply loop discards items from stale generations after it rewinds the
// poll position.
type Item struct {
	Batch      *changelog.Batch
	Generation uint64
}

type Queue struct {
	ch             chan Item
	closed         chan struct{}
	enqueueTimeout time.Duration
	closeOnce      sync.Once
}

func New(capacity int, enqueueTimeout time.Duration) *Queue {
	return &Queue{
		ch:             make(chan Item, capacity),
		closed:         make(chan struct{}),
		enqueueTimeout: enqueueTimeout,
	}
}

// Enqueue appends an item, blocking while the queue is full. It gives up
// with ErrEnqueueTimeout after the configured timeout so the producer can
// re-poll the same range instead of stalling forever. Enqueue racing Close
// either returns ErrClosed or lands the item in the buffer, where Dequeue
// still drains it.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.ch <- item:
		return nil
	case <-timer.C:
		return ErrEnqueueTimeout
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an item is available, the context is cancelled, or
// the queue is closed and fully drained. Buffered items are still delivered
// after Close, which is what lets shutdown drain in-flight work.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		return Item{}, ctx.Err()
	case <-q.closed:
		// Deliver whatever is still buffered before reporting closed.
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return Item{}, ErrClosed
		}
	}
}

// TryDequeue returns the next buffered item without blocking.
func (q *Queue) TryDequeue() (Item, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		return Item{}, false
	}
}

// Len reports the number of buffered batches.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. The item channel itself is never closed, so a
// producer racing Close cannot panic; consumers drain whatever is buffered
// and then see ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}
