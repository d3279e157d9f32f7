package peerlink

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/internal/routingtable"
	"github.com/brokermesh/brokermesh/internal/wire"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// LocalState is what the broker offers a newly connected peer during
// SYNCING: its full subscription filter and its current best-path
// routing table, both sent as a single delta against an empty prior
// state (spec.md §4.D's sync phase).
type LocalState struct {
	Filter *topic.Filter
	Routes []routingtable.Entry
}

// Handshaker completes the handshake and SYNCING phase for a fresh
// connection and returns a running Peer. Both Accept and Dial share
// this once the protocol identifier and local id have been exchanged.
type Handshaker struct {
	localID brokerid.ID
	cfg     Config
	logger  *logrus.Entry
	onDead  func(*Peer, error)
	state   func() LocalState
}

// NewHandshaker builds a Handshaker for this local endpoint. state is
// called fresh for each new peer, so callers should return a live
// snapshot of the current filter and routing table, not a cached one.
func NewHandshaker(localID brokerid.ID, cfg Config, logger *logrus.Entry, state func() LocalState, onDead func(*Peer, error)) *Handshaker {
	return &Handshaker{localID: localID, cfg: cfg, logger: logger, onDead: onDead, state: state}
}

// Accept performs the responder side of the handshake over an already
// accepted connection and brings the resulting Peer through SYNCING.
func (h *Handshaker) Accept(conn Conn) (*Peer, error) {
	return h.negotiate(conn)
}

// Dial performs the initiator side of the handshake over an already
// established connection (the connector's Dialer has already done the
// network-level connect/TLS).
func (h *Handshaker) Dial(conn Conn) (*Peer, error) {
	return h.negotiate(conn)
}

func (h *Handshaker) negotiate(conn Conn) (*Peer, error) {
	h.cfg.SetDefaults()

	local := wire.Handshake{
		Protocol: wire.ProtocolIdentifier(),
		PeerID:   h.localID,
		Window:   h.cfg.InitialWindow,
	}
	// Write and read concurrently: on an unbuffered conn (net.Pipe) both
	// sides writing first would block each other forever.
	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(wire.EncodeHandshake(local))
		writeErr <- err
	}()

	buf := make([]byte, 2+len(wire.ProtocolIdentifier())+brokerid.Size+4)
	if _, err := readFull(conn, buf); err != nil {
		conn.Close()
		return nil, fmt.Errorf("peerlink: read handshake: %w", err)
	}
	if err := <-writeErr; err != nil {
		conn.Close()
		return nil, fmt.Errorf("peerlink: write handshake: %w", err)
	}
	remote, err := wire.DecodeHandshake(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peerlink: decode handshake: %w", err)
	}
	if remote.Protocol != wire.ProtocolIdentifier() {
		conn.Close()
		return nil, fmt.Errorf("peerlink: incompatible protocol %q: %w", remote.Protocol, brokererr.ErrPeerIncompatible)
	}

	remoteID := brokerid.ID(remote.PeerID)
	p := New(remoteID, conn, h.cfg, h.logger, h.onDead)

	if err := h.syncState(p); err != nil {
		p.Close()
		return nil, err
	}
	p.MarkRunning()
	return p, nil
}

// syncState sends this endpoint's full filter and routing snapshot as
// a single sub_update and a run of path_updates, and lets the
// dispatcher observe the peer's reciprocal sync traffic through the
// normal Inbound() channel — SYNCING has no separate wire framing, it
// is just the state of the peer before MarkRunning.
func (h *Handshaker) syncState(p *Peer) error {
	snap := h.state()

	topics := snap.Filter.Snapshot()
	if err := p.SendControl(wire.TypeSubUpdate, wire.EncodeSubUpdate(wire.SubUpdate{
		Version: snap.Filter.Version(),
		Added:   topics,
	})); err != nil {
		return fmt.Errorf("peerlink: sync filter to %s: %w", p.id, err)
	}

	for _, route := range snap.Routes {
		if err := p.SendControl(wire.TypePathUpdate, wire.EncodePathUpdate(wire.PathUpdate{
			Dest:    route.Dest,
			Version: route.Version,
			Path:    route.Path(),
		})); err != nil {
			return fmt.Errorf("peerlink: sync routes to %s: %w", p.id, err)
		}
	}
	return nil
}

func readFull(conn Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DialFunc is the signature of the net.Dial family. Nothing in this
// repository uses it: the endpoint hands the connector its own
// context-aware dial function.
type DialFunc func(network, address string) (net.Conn, error)
