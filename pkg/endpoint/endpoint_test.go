package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/brokermesh/brokermesh/internal/config"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

func newTestEndpoint(t *testing.T) *Endpoint {
	cfg := config.Default()
	cfg.DisableSSL = true
	ep, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { ep.Shutdown(context.Background()) })
	return ep
}

func TestEndpoint_PublishSubscribe_LocalDelivery(t *testing.T) {
	ep := newTestEndpoint(t)

	sub, err := ep.Subscribe(topic.MustNew("orders"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if err := ep.Publish(topic.MustNew("orders/created"), []byte("order-1"), message.ScopeRoutable); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, payload, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got.String() != "orders/created" || string(payload) != "order-1" {
		t.Errorf("unexpected delivery: topic=%s payload=%q", got, payload)
	}
}

func TestEndpoint_PublishLocalOnly_NoCrossTalkBetweenSubscriptions(t *testing.T) {
	ep := newTestEndpoint(t)

	subA, err := ep.Subscribe(topic.MustNew("metrics"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer subA.Close()
	subB, err := ep.Subscribe(topic.MustNew("other"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer subB.Close()

	if err := ep.Publish(topic.MustNew("metrics/cpu"), []byte("99"), message.ScopeLocalOnly); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, _, err := subB.Next(ctx); err == nil {
		t.Errorf("expected subB to receive nothing for a non-matching topic")
	}
}

func TestEndpoint_TwoEndpointsPeerAndForward(t *testing.T) {
	cfgA := config.Default()
	cfgA.DisableSSL = true
	epA, err := New(Options{Config: cfgA})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer epA.Shutdown(context.Background())

	cfgB := config.Default()
	cfgB.DisableSSL = true
	epB, err := New(Options{Config: cfgB})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer epB.Shutdown(context.Background())

	lnB, err := epB.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() error = %v", err)
	}
	defer lnB.Close()

	subB, err := epB.Subscribe(topic.MustNew("news"))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer subB.Close()

	epA.Peer(context.Background(), lnB.Addr().String())

	// The handshake/sync negotiation completes asynchronously; retry
	// the publish until B's subscriber sees it or the deadline passes.
	deadline := time.Now().Add(2 * time.Second)
	var got topic.Topic
	var payload []byte
	var recvErr error
	for time.Now().Before(deadline) {
		if err := epA.Publish(topic.MustNew("news/headline"), []byte("hello"), message.ScopeRoutable); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		got, payload, recvErr = subB.Next(ctx)
		cancel()
		if recvErr == nil {
			break
		}
	}
	if recvErr != nil {
		t.Fatalf("Next() never received the forwarded item: %v", recvErr)
	}
	if got.String() != "news/headline" || string(payload) != "hello" {
		t.Errorf("unexpected forwarded delivery: topic=%s payload=%q", got, payload)
	}
}
