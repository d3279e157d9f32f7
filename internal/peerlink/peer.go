package peerlink

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/internal/wire"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// Conn is the duplex byte channel a Peer transports frames over.
// Wire-level TCP/TLS setup is an external collaborator (spec.md §1);
// peerlink only needs something satisfying this interface, which
// net.Conn already does.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Peer is one directly-connected remote endpoint's transport: the
// credit-based outbound stream, the inbound decode loop, heartbeats,
// and NACK-driven retransmission described in spec.md §4.D.
type Peer struct {
	id   brokerid.ID
	conn Conn
	cfg  Config
	log  *logrus.Entry

	state atomic.Int32

	seq     atomic.Uint64
	tokens  chan struct{} // credit tokens available to spend on outbound items
	outbox  chan wire.Frame
	inbound chan wire.Frame // decoded non-control frames surfaced to the dispatcher

	filterMu sync.RWMutex
	filter   *topic.Filter

	retransmit *retransmitBuffer

	lastRecv     atomic.Int64 // unix nano
	nextExpected atomic.Uint64
	missedBeats  atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}

	onDead func(p *Peer, err error)
}

// New wraps conn as a transport to peer id, with credit window and
// queue sizes taken from cfg. Callers (the listener, the connector's
// onConnect) are expected to have already exchanged the handshake.
func New(id brokerid.ID, conn Conn, cfg Config, logger *logrus.Entry, onDead func(*Peer, error)) *Peer {
	cfg.SetDefaults()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Peer{
		id:         id,
		conn:       conn,
		cfg:        cfg,
		log:        logger.WithField("peer", id.String()),
		tokens:     make(chan struct{}, cfg.InitialWindow),
		outbox:     make(chan wire.Frame, cfg.SendQueueSize),
		inbound:    make(chan wire.Frame, cfg.SendQueueSize),
		filter:     topic.NewFilter(),
		retransmit: newRetransmitBuffer(cfg.RetransmitBuffer),
		closed:     make(chan struct{}),
		onDead:     onDead,
	}
	for i := uint32(0); i < cfg.InitialWindow; i++ {
		p.tokens <- struct{}{}
	}
	p.state.Store(int32(Syncing))
	p.lastRecv.Store(time.Now().UnixNano())

	go p.writeLoop()
	go p.readLoop()
	go p.heartbeatLoop()

	return p
}

// ID returns the peer's negotiated endpoint identifier.
func (p *Peer) ID() brokerid.ID { return p.id }

// State returns the peer's current connection state.
func (p *Peer) State() State { return State(p.state.Load()) }

func (p *Peer) setState(s State) { p.state.Store(int32(s)) }

// Filter returns the peer's most recently advertised subscription
// filter.
func (p *Peer) Filter() *topic.Filter {
	p.filterMu.RLock()
	defer p.filterMu.RUnlock()
	return p.filter
}

func (p *Peer) setFilter(f *topic.Filter) {
	p.filterMu.Lock()
	p.filter = f
	p.filterMu.Unlock()
}

// Inbound exposes decoded frames (item, path_update) for the
// dispatcher to interpret. Control frames (heartbeat, ack, fin) and
// sub_update, which is applied to the peer's filter, are handled
// internally and never appear here.
func (p *Peer) Inbound() <-chan wire.Frame { return p.inbound }

// MarkRunning transitions the peer out of SYNCING once both sides have
// exchanged their full filter and routing snapshot.
func (p *Peer) MarkRunning() { p.setState(Running) }

// SendItem enqueues an item frame, blocking until send credit is
// available or the peer closes. This call is expected to run inside a
// goroutine dedicated to this peer's forwarding lane, so that stalling
// on credit only stalls that lane (spec.md §4.F step 6), never the
// dispatcher's main loop.
func (p *Peer) SendItem(payload []byte) error {
	select {
	case <-p.tokens:
	case <-p.closed:
		return fmt.Errorf("peerlink: peer %s closed: %w", p.id, brokererr.ErrShutdown)
	}
	return p.enqueue(wire.Frame{Type: wire.TypeItem, Payload: payload})
}

// SendControl enqueues a non-credit-gated frame (sub_update,
// path_update, heartbeat, fin).
func (p *Peer) SendControl(typ wire.Type, payload []byte) error {
	return p.enqueue(wire.Frame{Type: typ, Payload: payload})
}

func (p *Peer) enqueue(f wire.Frame) error {
	select {
	case <-p.closed:
		return fmt.Errorf("peerlink: peer %s closed: %w", p.id, brokererr.ErrShutdown)
	default:
	}
	select {
	case p.outbox <- f:
		return nil
	case <-p.closed:
		return fmt.Errorf("peerlink: peer %s closed: %w", p.id, brokererr.ErrShutdown)
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case f := <-p.outbox:
			if f.Seq == 0 { // retransmitted frames keep their original seq
				f.Seq = p.seq.Add(1)
			}
			if _, err := f.WriteTo(p.conn); err != nil {
				p.fail(fmt.Errorf("peerlink: write to %s: %w", p.id, err))
				return
			}
			if f.Type == wire.TypeItem {
				p.retransmit.store(f)
			}
		case <-p.closed:
			return
		}
	}
}

func (p *Peer) readLoop() {
	for {
		f, err := wire.ReadFrame(p.conn)
		if err != nil {
			p.fail(fmt.Errorf("peerlink: read from %s: %w", p.id, err))
			return
		}
		p.lastRecv.Store(time.Now().UnixNano())
		p.missedBeats.Store(0)

		switch f.Type {
		case wire.TypeHeartbeat:
			continue
		case wire.TypeAck:
			ack, err := wire.DecodeAck(f.Payload)
			if err != nil {
				p.fail(fmt.Errorf("peerlink: decode ack from %s: %w", p.id, err))
				return
			}
			p.grantCredit(ack.Credit)
			if ack.HasNack {
				p.handleNack(ack.NackSeq)
			}
			continue
		case wire.TypeFin:
			p.setState(Draining)
			p.Close()
			return
		case wire.TypeSubUpdate:
			p.applySubUpdate(f.Payload)
			continue
		}

		p.checkGap(f.Seq)

		select {
		case p.inbound <- f:
		case <-p.closed:
			return
		}
	}
}

func (p *Peer) applySubUpdate(payload []byte) {
	u, err := wire.DecodeSubUpdate(payload)
	if err != nil {
		p.log.WithError(err).Warn("dropping malformed sub_update")
		return
	}
	f := p.Filter()
	for _, t := range u.Added {
		f.Add(t)
	}
	for _, t := range u.Removed {
		f.Remove(t)
	}
}

func (p *Peer) checkGap(seq uint64) {
	expected := p.nextExpected.Load()
	if expected != 0 && seq > expected {
		go p.scheduleNackRequest(expected)
	}
	if seq+1 > expected {
		p.nextExpected.Store(seq + 1)
	}
}

func (p *Peer) scheduleNackRequest(from uint64) {
	select {
	case <-time.After(p.cfg.NackTimeout):
	case <-p.closed:
		return
	}
	if p.nextExpected.Load() <= from {
		return // gap was filled by the time the timer fired
	}
	_ = p.SendControl(wire.TypeAck, wire.EncodeAck(wire.Ack{HasNack: true, NackSeq: from}))
}

func (p *Peer) handleNack(from uint64) {
	frames, ok := p.retransmit.fetch(from)
	if !ok {
		p.fail(fmt.Errorf("peerlink: peer %s: retransmit buffer exhausted for seq %d: %w", p.id, from, brokererr.ErrNackExhausted))
		return
	}
	for _, f := range frames {
		_ = p.enqueue(f)
	}
}

func (p *Peer) grantCredit(n uint32) {
	for i := uint32(0); i < n; i++ {
		select {
		case p.tokens <- struct{}{}:
		default:
			return // window already full; surplus credit dropped
		}
	}
}

// Ack grants the peer n additional send credits (we are the receiver
// here, advertising willingness to accept n more items).
func (p *Peer) Ack(n uint32) error {
	return p.SendControl(wire.TypeAck, wire.EncodeAck(wire.Ack{Credit: n}))
}

func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.SendControl(wire.TypeHeartbeat, nil); err != nil {
				return
			}
			missed := p.missedBeats.Add(1)
			if int(missed) > p.cfg.ConnectionTimeout {
				p.fail(fmt.Errorf("peerlink: peer %s missed %d heartbeats: connection_timeout", p.id, missed))
				return
			}
		case <-p.closed:
			return
		}
	}
}

func (p *Peer) fail(err error) {
	p.log.WithError(err).Warn("peer link failing")
	p.Close()
	if p.onDead != nil {
		p.onDead(p, err)
	}
}

// Close tears down the peer's goroutines and underlying connection.
// Idempotent.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.setState(Disconnected)
		close(p.closed)
		err = p.conn.Close()
	})
	return err
}
