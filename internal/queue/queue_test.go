package queue

import (
	"testing"
	"time"

	"github.com/brokermesh/brokermesh/internal/itempool"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

func newTestItem(t *testing.T, pool *itempool.Pool) *itempool.Item {
	it, err := pool.Acquire(message.NewData(topic.MustNew("a"), nil), 1, nil, message.ScopeRoutable)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	return it
}

func TestQueue_ProduceConsumeFIFO(t *testing.T) {
	pool := itempool.New(4, 4)
	q := New(2)

	if !q.Produce(newTestItem(t, pool)) {
		t.Fatalf("expected Produce to succeed under capacity")
	}
	if !q.Produce(newTestItem(t, pool)) {
		t.Fatalf("expected Produce to succeed at capacity boundary")
	}
	if q.Produce(newTestItem(t, pool)) {
		t.Errorf("expected Produce to fail once the queue is full")
	}

	n := q.Consume(10, func(it *itempool.Item) {})
	if n != 2 {
		t.Errorf("expected to consume 2 items, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after consuming everything")
	}
}

func TestQueue_CloseReleasesPendingItems(t *testing.T) {
	pool := itempool.New(4, 4)
	q := New(4)
	q.Produce(newTestItem(t, pool))
	q.Produce(newTestItem(t, pool))

	q.Close()

	if pool.Stats().Live != 0 {
		t.Errorf("expected pending items released on Close, live=%d", pool.Stats().Live)
	}
	if q.Produce(newTestItem(t, pool)) {
		t.Errorf("expected Produce to fail on a closed queue")
	}
}

func TestQueue_WaitWakesOnProduce(t *testing.T) {
	pool := itempool.New(4, 4)
	q := New(4)
	done := make(chan struct{})

	woke := make(chan struct{})
	go func() {
		q.Wait(done)
		close(woke)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Produce(newTestItem(t, pool))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after Produce")
	}
}

func TestQueue_WaitWakesOnDone(t *testing.T) {
	q := New(1)
	done := make(chan struct{})

	woke := make(chan struct{})
	go func() {
		q.Wait(done)
		close(woke)
	}()

	close(done)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up after done was closed")
	}
}
