// Package queue implements the bounded SPSC ring buffers that sit
// between the dispatcher and in-process producers/consumers (component
// G), with demand signaling and a rolling send-rate estimate.
package queue

import (
	"sync"
	"time"

	"github.com/brokermesh/brokermesh/internal/itempool"
)

// Queue is a single-producer/single-consumer bounded ring buffer of
// pooled items. Closing wakes both sides; pending items are dropped
// and their references released.
type Queue struct {
	mu       sync.Mutex
	buf      []*itempool.Item
	head     int
	tail     int
	count    int
	closed   bool
	notEmpty chan struct{}

	rate *rateEstimator
}

// New returns a queue with the given bounded capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		buf:      make([]*itempool.Item, capacity),
		notEmpty: make(chan struct{}, 1),
		rate:     newRateEstimator(),
	}
}

// Produce enqueues item, taking ownership of the caller's reference.
// It returns false without blocking if the queue is full or closed —
// per spec.md §4.G the caller must then yield (retry) or drop; the
// queue itself never blocks a producer.
func (q *Queue) Produce(item *itempool.Item) bool {
	q.mu.Lock()
	if q.closed || q.count == len(q.buf) {
		q.mu.Unlock()
		return false
	}
	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.rate.sample(time.Now())
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// Consume invokes fn for up to n ready items, releasing each item's
// queue-held reference after fn returns. It returns the number of
// items consumed.
func (q *Queue) Consume(n int, fn func(*itempool.Item)) int {
	consumed := 0
	for consumed < n {
		q.mu.Lock()
		if q.count == 0 {
			q.mu.Unlock()
			break
		}
		item := q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.mu.Unlock()

		fn(item)
		item.Release()
		consumed++
	}
	return consumed
}

// Wait blocks until an item is available, the queue is closed, or ctx
// timeout/cancellation fires via the done channel, whichever comes
// first.
func (q *Queue) Wait(done <-chan struct{}) {
	q.mu.Lock()
	empty := q.count == 0 && !q.closed
	q.mu.Unlock()
	if !empty {
		return
	}
	select {
	case <-q.notEmpty:
	case <-done:
	}
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close wakes any waiter and drops/releases every pending item.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.count > 0 {
		item := q.buf[q.head]
		q.buf[q.head] = nil
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		item.Release()
	}
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// RateEstimate returns the queue's rolling send-rate estimate in items
// per second, for observability.
func (q *Queue) RateEstimate() float64 {
	return q.rate.estimate(time.Now())
}
