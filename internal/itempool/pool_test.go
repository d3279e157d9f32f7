package itempool

import (
	"errors"
	"testing"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

func TestPool_AcquireRelease_Conservation(t *testing.T) {
	p := New(4, 8)
	msg := message.NewData(topic.MustNew("a/b"), []byte("hi"))

	var items []*Item
	for i := 0; i < 6; i++ {
		it, err := p.Acquire(msg, 16, nil, message.ScopeRoutable)
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		items = append(items, it)
	}

	stats := p.Stats()
	if stats.Live != 6 {
		t.Errorf("expected 6 live items, got %d", stats.Live)
	}

	for _, it := range items {
		it.Release()
	}

	stats = p.Stats()
	if stats.Live != 0 {
		t.Errorf("expected 0 live items after releasing all, got %d", stats.Live)
	}
	if stats.Acquired != stats.Released {
		t.Errorf("expected acquired == released at steady state, got %d != %d", stats.Acquired, stats.Released)
	}
}

func TestPool_AcquireBeyondCeiling_Backpressure(t *testing.T) {
	p := New(1, 2)
	msg := message.NewData(topic.MustNew("a"), nil)

	if _, err := p.Acquire(msg, 1, nil, message.ScopeRoutable); err != nil {
		t.Fatalf("Acquire() 1st error = %v", err)
	}
	if _, err := p.Acquire(msg, 1, nil, message.ScopeRoutable); err != nil {
		t.Fatalf("Acquire() 2nd error = %v", err)
	}
	_, err := p.Acquire(msg, 1, nil, message.ScopeRoutable)
	if !errors.Is(err, brokererr.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure beyond ceiling, got %v", err)
	}
}

func TestItem_RetainRelease_SharesOwnership(t *testing.T) {
	p := New(2, 2)
	msg := message.NewData(topic.MustNew("a"), nil)
	it, err := p.Acquire(msg, 1, nil, message.ScopeRoutable)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	it.Retain()
	it.Release()
	if p.Stats().Live != 1 {
		t.Errorf("expected item still live after releasing one of two references")
	}
	it.Release()
	if p.Stats().Live != 0 {
		t.Errorf("expected item released after dropping last reference")
	}
}

func TestItem_WithForward_DecrementsTTLAndExtendsPath(t *testing.T) {
	p := New(2, 2)
	msg := message.NewData(topic.MustNew("a"), nil)
	it, err := p.Acquire(msg, 5, nil, message.ScopeRoutable)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer it.Release()

	via := brokerid.ID{1}
	fwd, err := it.WithForward(via)
	if err != nil {
		t.Fatalf("WithForward() error = %v", err)
	}
	defer fwd.Release()

	if fwd.TTL != 4 {
		t.Errorf("expected forwarded TTL 4, got %d", fwd.TTL)
	}
	if len(fwd.Path) != 1 || fwd.Path[0] != via {
		t.Errorf("expected forwarded path to contain the forwarding hop, got %v", fwd.Path)
	}
	if it.TTL != 5 {
		t.Errorf("expected original item's TTL unchanged, got %d", it.TTL)
	}
	if p.Stats().Live != 2 {
		t.Errorf("expected both the original and forwarded item to count as live, got %d", p.Stats().Live)
	}
	if p.Stats().Acquired != 2 {
		t.Errorf("expected WithForward to count as a second acquire, got %d", p.Stats().Acquired)
	}
}

func TestItem_WithForward_ReleaseConservesPool(t *testing.T) {
	p := New(2, 2)
	msg := message.NewData(topic.MustNew("a"), nil)
	it, err := p.Acquire(msg, 5, nil, message.ScopeRoutable)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	fwd, err := it.WithForward(brokerid.ID{1})
	if err != nil {
		t.Fatalf("WithForward() error = %v", err)
	}

	it.Release()
	fwd.Release()

	stats := p.Stats()
	if stats.Live != 0 {
		t.Errorf("expected live=0 after releasing both the original and the forwarded item, got %d", stats.Live)
	}
	if stats.Acquired != stats.Released {
		t.Errorf("expected acquired == released, got acquired=%d released=%d", stats.Acquired, stats.Released)
	}
}
