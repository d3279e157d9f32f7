package queue

import (
	"github.com/brokermesh/brokermesh/internal/itempool"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// Subscriber pairs a topic filter with its delivery queue; the
// dispatcher matches published/forwarded items against Filter and
// enqueues matches onto Q.
type Subscriber struct {
	ID     string
	Filter *topic.Filter
	Q      *Queue
}

// NewSubscriber returns a subscriber with the given delivery-queue
// capacity and an initially empty filter.
func NewSubscriber(id string, capacity int) *Subscriber {
	return &Subscriber{ID: id, Filter: topic.NewFilter(), Q: New(capacity)}
}

// Close closes the underlying queue, waking and draining any pending
// consumer.
func (s *Subscriber) Close() {
	s.Q.Close()
}

// PublishRequest pairs an item with a completion channel. Nothing in
// this repository uses it; the dispatcher's local-publish channel
// carries bare *itempool.Item values.
type PublishRequest struct {
	Item *itempool.Item
	Done chan error
}
