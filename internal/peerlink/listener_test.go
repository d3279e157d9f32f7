package peerlink

import (
	"net"
	"testing"
	"time"

	"github.com/brokermesh/brokermesh/internal/routingtable"
	"github.com/brokermesh/brokermesh/internal/wire"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

func TestHandshaker_DialAccept_NegotiatesAndSyncsState(t *testing.T) {
	local, remote := net.Pipe()

	localID := brokerid.New()
	remoteID := brokerid.New()

	localFilter := topic.NewFilter()
	localFilter.Add(topic.MustNew("a/b"))
	remoteFilter := topic.NewFilter()
	remoteFilter.Add(topic.MustNew("x/y"))

	dialer := NewHandshaker(localID, Config{LocalID: localID.String(), InitialWindow: 4, HeartbeatInterval: time.Hour},
		nil, func() LocalState { return LocalState{Filter: localFilter} }, nil)
	acceptor := NewHandshaker(remoteID, Config{LocalID: remoteID.String(), InitialWindow: 4, HeartbeatInterval: time.Hour},
		nil, func() LocalState { return LocalState{Filter: remoteFilter} }, nil)

	type result struct {
		peer *Peer
		err  error
	}
	dialResult := make(chan result, 1)
	acceptResult := make(chan result, 1)

	go func() {
		p, err := dialer.Dial(local)
		dialResult <- result{p, err}
	}()
	go func() {
		p, err := acceptor.Accept(remote)
		acceptResult <- result{p, err}
	}()

	dr := waitResult(t, dialResult)
	ar := waitResult(t, acceptResult)

	if dr.err != nil {
		t.Fatalf("Dial() error = %v", dr.err)
	}
	if ar.err != nil {
		t.Fatalf("Accept() error = %v", ar.err)
	}
	defer dr.peer.Close()
	defer ar.peer.Close()

	if dr.peer.ID() != remoteID {
		t.Errorf("dial side resolved wrong peer id: got %v, want %v", dr.peer.ID(), remoteID)
	}
	if ar.peer.ID() != localID {
		t.Errorf("accept side resolved wrong peer id: got %v, want %v", ar.peer.ID(), localID)
	}
	if dr.peer.State() != Running || ar.peer.State() != Running {
		t.Errorf("expected both peers Running after negotiate, got %v / %v", dr.peer.State(), ar.peer.State())
	}

	waitForFilterMatch(t, dr.peer, topic.MustNew("x/y"))
	waitForFilterMatch(t, ar.peer, topic.MustNew("a/b"))
}

func TestHandshaker_SyncState_SendsRoutingSnapshotAsPathUpdates(t *testing.T) {
	local, remote := net.Pipe()

	localID := brokerid.New()
	remoteID := brokerid.New()
	dest := brokerid.New()
	nextHop := brokerid.New()

	table := routingtable.New(localID, time.Minute)
	table.ReceiveAdvertisement(nextHop, routingtable.Advertisement{Dest: dest, Version: 1, Path: []brokerid.ID{dest}}, time.Now())

	dialer := NewHandshaker(localID, Config{LocalID: localID.String(), InitialWindow: 4, HeartbeatInterval: time.Hour},
		nil, func() LocalState { return LocalState{Filter: topic.NewFilter(), Routes: table.Entries()} }, nil)
	acceptor := NewHandshaker(remoteID, Config{LocalID: remoteID.String(), InitialWindow: 4, HeartbeatInterval: time.Hour},
		nil, func() LocalState { return LocalState{Filter: topic.NewFilter()} }, nil)

	dialResult := make(chan *Peer, 1)
	acceptResult := make(chan *Peer, 1)
	go func() { p, _ := dialer.Dial(local); dialResult <- p }()
	go func() { p, _ := acceptor.Accept(remote); acceptResult <- p }()

	dp := <-dialResult
	ap := <-acceptResult
	if dp == nil || ap == nil {
		t.Fatal("expected both sides to negotiate successfully")
	}
	defer dp.Close()
	defer ap.Close()

	select {
	case f := <-ap.Inbound():
		got, err := wire.DecodePathUpdate(f.Payload)
		if err != nil {
			t.Fatalf("decode path_update: %v", err)
		}
		if !got.Dest.Equal(dest) {
			t.Errorf("expected synced route for dest %v, got %v", dest, got.Dest)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the dial side's routing snapshot to arrive as a path_update")
	}
}

func waitResult[T any](t *testing.T, ch <-chan T) T {
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake result")
		var zero T
		return zero
	}
}

func waitForFilterMatch(t *testing.T, p *Peer, top topic.Topic) {
	deadline := time.After(time.Second)
	for {
		if p.Filter().Match(top) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("peer %v filter never synced to include %v", p.ID(), top)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
