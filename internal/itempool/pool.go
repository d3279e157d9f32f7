// Package itempool implements the reference-counted item envelope pool
// (component B). Items wrap a message plus routing metadata (TTL,
// origin, scope, path vector); the pool allocates slots on demand and
// recycles released ones, up to a configurable ceiling, at which point
// Acquire reports backpressure rather than growing without bound.
package itempool

import (
	"fmt"
	"sync/atomic"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/message"
)

// Item is a reference-counted envelope carrying one message, a
// remaining TTL, an origin reference, a scope tag, and the path vector
// it has traversed so far. Items are returned to the pool when the
// last reference drops.
type Item struct {
	pool *Pool

	refcount int32 // atomic

	Msg    message.Message
	TTL    uint16
	Origin *brokerid.ID // nil for local-origin items
	Scope  message.Scope
	Path   []brokerid.ID
}

// Retain increments the reference count and returns the same item, for
// handing a second owner (e.g. a subscriber queue) a live reference.
func (it *Item) Retain() *Item {
	atomic.AddInt32(&it.refcount, 1)
	return it
}

// Release decrements the reference count; at zero the slot returns to
// the pool it was acquired from.
func (it *Item) Release() {
	if atomic.AddInt32(&it.refcount, -1) == 0 {
		it.pool.release(it)
	}
}

// WithForward returns a new forwarding view of the item: TTL
// decremented by one and path extended with the forwarding endpoint.
// It does not mutate the receiver; items are otherwise immutable once
// acquired so that concurrent consumers never race on TTL/path. The
// view is acquired from the same pool as the receiver, so releasing it
// balances live/acquired/released the same as any other item.
func (it *Item) WithForward(via brokerid.ID) (*Item, error) {
	path := make([]brokerid.ID, len(it.Path), len(it.Path)+1)
	copy(path, it.Path)
	path = append(path, via)
	return it.pool.acquireWithPath(it.Msg, it.TTL-1, it.Origin, it.Scope, path)
}

// Pool is a fixed-capacity free list of item slots plus a spillover
// allocator, bounded by a configurable ceiling. Acquire is called from
// a single owning stage (the dispatcher); Release is safe to call from
// any goroutine and never blocks.
type Pool struct {
	free chan *Item

	capacity int32 // requested capacity; stored, not consulted by Acquire/Release
	ceiling  int32 // hard cap: Acquire reports backpressure beyond this

	live     int32 // atomic: currently-live items
	acquired int64 // atomic: lifetime acquire count
	released int64 // atomic: lifetime release count
}

// New returns a pool whose free list starts empty and holds up to
// ceiling released slots. Acquire allocates a new slot when the free
// list is empty, until live items reach ceiling, after which Acquire
// returns brokererr.ErrBackpressure. Nothing is pre-allocated.
func New(capacity, ceiling int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	if ceiling < capacity {
		ceiling = capacity
	}
	return &Pool{
		free:     make(chan *Item, ceiling),
		capacity: int32(capacity),
		ceiling:  int32(ceiling),
	}
}

// Acquire returns a pooled or freshly allocated item wrapping msg. It
// never blocks: once live items reach the configured ceiling it
// returns brokererr.ErrBackpressure instead of growing further.
func (p *Pool) Acquire(msg message.Message, ttl uint16, origin *brokerid.ID, scope message.Scope) (*Item, error) {
	it, err := p.acquireSlot()
	if err != nil {
		return nil, err
	}
	it.Msg = msg
	it.TTL = ttl
	it.Origin = origin
	it.Scope = scope
	it.Path = it.Path[:0]
	return it, nil
}

// acquireWithPath is Acquire with an explicit, already-built path
// vector, used by WithForward so every forwarded item still counts
// against live/acquired the same way a fresh Acquire would.
func (p *Pool) acquireWithPath(msg message.Message, ttl uint16, origin *brokerid.ID, scope message.Scope, path []brokerid.ID) (*Item, error) {
	it, err := p.acquireSlot()
	if err != nil {
		return nil, err
	}
	it.Msg = msg
	it.TTL = ttl
	it.Origin = origin
	it.Scope = scope
	it.Path = path
	return it, nil
}

// acquireSlot accounts for one more live item against the ceiling and
// returns a slot to fill in, either recycled from the free list or
// freshly allocated.
func (p *Pool) acquireSlot() (*Item, error) {
	for {
		cur := atomic.LoadInt32(&p.live)
		if cur >= p.ceiling {
			return nil, fmt.Errorf("itempool: live=%d ceiling=%d: %w", cur, p.ceiling, brokererr.ErrBackpressure)
		}
		if atomic.CompareAndSwapInt32(&p.live, cur, cur+1) {
			break
		}
	}
	atomic.AddInt64(&p.acquired, 1)

	select {
	case it := <-p.free:
		it.refcount = 1
		return it, nil
	default:
		return &Item{pool: p, refcount: 1}, nil
	}
}

// release returns a drained item's slot to the free list (or drops it,
// letting the GC reclaim it, if the free list is already full).
// This is the only pool operation that may cross goroutine boundaries
// and must remain lock-free: it is a single channel send.
func (p *Pool) release(it *Item) {
	atomic.AddInt32(&p.live, -1)
	atomic.AddInt64(&p.released, 1)
	it.Msg = message.Message{}
	it.Origin = nil
	select {
	case p.free <- it:
	default:
		// Free list momentarily full; drop, the GC reclaims it.
	}
}

// Stats reports the pool's conservation counters.
type Stats struct {
	Live     int32
	Acquired int64
	Released int64
}

// Stats returns a snapshot of the pool's counters. At steady state
// with all consumers drained, Live is zero and Acquired equals
// Released — the pool-conservation property.
func (p *Pool) Stats() Stats {
	return Stats{
		Live:     atomic.LoadInt32(&p.live),
		Acquired: atomic.LoadInt64(&p.acquired),
		Released: atomic.LoadInt64(&p.released),
	}
}
