// Package dispatch implements the central forwarding pipeline
// (component F): the seven-step rule that takes a locally published or
// peer-received item and decides which local subscribers and which
// peers receive it, per spec.md §4.F.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/brokermesh/internal/brokererr"
	"github.com/brokermesh/brokermesh/internal/itempool"
	"github.com/brokermesh/brokermesh/internal/peerlink"
	"github.com/brokermesh/brokermesh/internal/queue"
	"github.com/brokermesh/brokermesh/internal/routingtable"
	"github.com/brokermesh/brokermesh/internal/wire"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// Config tunes the dispatcher's defaults and leaf-mode behavior.
type Config struct {
	LocalID brokerid.ID

	DefaultTTL uint16
	BatchSize  int // items drained per lane per service round, for round-robin fairness

	// DisableForwarding puts this endpoint into leaf mode: it still
	// publishes and subscribes locally, but never relays items or
	// routing advertisements between peers (spec.md §4.F note).
	DisableForwarding bool
}

func (c *Config) setDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 16
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
}

// Dispatcher owns the local subscriber registry and the set of live
// peer links, and runs the forwarding rule for every item that enters
// the system, whether from a local publisher or a remote peer. A
// single goroutine (run) services the local-publish lane and each
// peer's inbound lane in round-robin batches of cfg.BatchSize, so one
// noisy peer or a burst of local publishes cannot starve the others
// (spec.md §4.F's fairness rule).
type Dispatcher struct {
	cfg   Config
	pool  *itempool.Pool
	table *routingtable.Table
	log   *logrus.Entry

	mu          sync.RWMutex
	subscribers map[string]*queue.Subscriber
	peers       map[brokerid.ID]*peerlink.Peer
	lanes       map[brokerid.ID]chan wire.Frame

	localCh chan *itempool.Item
	wake    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a dispatcher bound to pool for item allocation and table
// for routing decisions, and starts its single run loop.
func New(cfg Config, pool *itempool.Pool, table *routingtable.Table, logger *logrus.Entry) *Dispatcher {
	cfg.setDefaults()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		cfg:         cfg,
		pool:        pool,
		table:       table,
		log:         logger.WithField("component", "dispatch"),
		subscribers: make(map[string]*queue.Subscriber),
		peers:       make(map[brokerid.ID]*peerlink.Peer),
		lanes:       make(map[brokerid.ID]chan wire.Frame),
		localCh:     make(chan *itempool.Item, cfg.BatchSize*4),
		wake:        make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	go d.run()
	return d
}

// signalWake wakes the run loop if it is idle, without blocking a
// producer that beat it there.
func (d *Dispatcher) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// AddSubscriber registers a local subscriber for delivery. It does not
// advertise anything to peers; AdvertiseLocalSubscription does that.
func (d *Dispatcher) AddSubscriber(sub *queue.Subscriber) {
	d.mu.Lock()
	d.subscribers[sub.ID] = sub
	d.mu.Unlock()
}

// RemoveSubscriber drops a local subscriber and closes its queue.
func (d *Dispatcher) RemoveSubscriber(id string) {
	d.mu.Lock()
	sub, ok := d.subscribers[id]
	delete(d.subscribers, id)
	d.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// AddPeer registers a running peer link, gives it its own inbound
// lane, and starts feeding that lane from the peer's frame stream.
// Callers (the endpoint façade) add the peer only after its
// handshake/sync phase has completed.
func (d *Dispatcher) AddPeer(p *peerlink.Peer) {
	lane := make(chan wire.Frame, d.cfg.BatchSize*4)
	d.mu.Lock()
	d.peers[p.ID()] = p
	d.lanes[p.ID()] = lane
	d.mu.Unlock()
	go d.consumePeer(p, lane)
}

// RemovePeer unregisters a peer whose link has gone down and retracts
// every route that went through it, rebroadcasting withdrawals to the
// remaining peers (spec.md §4.C's disconnect rule).
func (d *Dispatcher) RemovePeer(id brokerid.ID) {
	d.mu.Lock()
	delete(d.peers, id)
	delete(d.lanes, id)
	d.mu.Unlock()

	withdrawn := d.table.DisconnectPeer(id, time.Now())
	if d.cfg.DisableForwarding {
		return
	}
	for _, dest := range withdrawn {
		d.broadcastPathUpdate(wire.PathUpdate{Dest: dest, Withdraw: true}, id)
	}
}

// Close stops the run loop and every consumePeer goroutine. In-flight
// consumePeer goroutines also exit on their own once their peer's
// Inbound channel closes.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
}

// Publish is the local-origin entry point (component H's Publish
// call): it acquires an item from the pool and hands it to the
// local-publish lane for the run loop to route in its turn. It never
// blocks: a full local lane reports backpressure rather than stalling
// the caller.
func (d *Dispatcher) Publish(msg message.Message, scope message.Scope) error {
	it, err := d.pool.Acquire(msg, d.cfg.DefaultTTL, nil, scope)
	if err != nil {
		return err
	}
	select {
	case d.localCh <- it:
		d.signalWake()
		return nil
	default:
		it.Release()
		return fmt.Errorf("dispatch: local-publish lane full: %w", brokererr.ErrBackpressure)
	}
}

// consumePeer feeds p's decoded frames into its dedicated lane, which
// the run loop services in round-robin batches. This is the lane's
// only writer.
func (d *Dispatcher) consumePeer(p *peerlink.Peer, lane chan wire.Frame) {
	for {
		select {
		case f, ok := <-p.Inbound():
			if !ok {
				return
			}
			select {
			case lane <- f:
				d.signalWake()
			case <-d.closed:
				return
			}
		case <-d.closed:
			return
		}
	}
}

// run is the dispatcher's single forwarding activity: it alternates
// between the local-publish lane and every peer's inbound lane,
// draining up to cfg.BatchSize entries from each per round, then
// blocks for more work (spec.md §4.F's fairness rule; SPEC_FULL.md §5).
func (d *Dispatcher) run() {
	for {
		select {
		case <-d.closed:
			return
		default:
		}
		if d.serviceRound() {
			continue
		}
		select {
		case <-d.closed:
			return
		case <-d.wake:
		}
	}
}

// serviceRound drains at most cfg.BatchSize entries from the
// local-publish lane, then at most cfg.BatchSize from each peer lane
// in turn, and reports whether any work was done.
func (d *Dispatcher) serviceRound() bool {
	did := false

drainLocal:
	for i := 0; i < d.cfg.BatchSize; i++ {
		select {
		case it := <-d.localCh:
			d.route(it, nil)
			did = true
		default:
			break drainLocal
		}
	}

	d.mu.RLock()
	lanes := make(map[brokerid.ID]chan wire.Frame, len(d.lanes))
	for id, lane := range d.lanes {
		lanes[id] = lane
	}
	peers := make(map[brokerid.ID]*peerlink.Peer, len(d.peers))
	for id, p := range d.peers {
		peers[id] = p
	}
	d.mu.RUnlock()

	for id, lane := range lanes {
		p := peers[id]
		if p == nil {
			continue
		}
	drainPeer:
		for i := 0; i < d.cfg.BatchSize; i++ {
			select {
			case f := <-lane:
				d.handleFrame(p, f)
				did = true
			default:
				break drainPeer
			}
		}
	}

	return did
}

func (d *Dispatcher) handleFrame(from *peerlink.Peer, f wire.Frame) {
	switch f.Type {
	case wire.TypeItem:
		d.handleItemFrame(from, f)
	case wire.TypePathUpdate:
		d.handlePathUpdate(from, f)
	default:
		d.log.WithField("frame_type", f.Type).Warn("unexpected frame reached dispatcher")
	}
}

func (d *Dispatcher) handleItemFrame(from *peerlink.Peer, f wire.Frame) {
	decoded, err := wire.DecodeItem(f.Payload)
	if err != nil {
		d.log.WithError(err).WithField("peer", from.ID()).Warn("dropping malformed item frame")
		return
	}

	// Rule 1: internal topics never cross a peer boundary in either
	// direction (spec.md §4.F step 1).
	if decoded.Msg.Topic.IsInternal() {
		d.log.WithField("peer", from.ID()).Warn("peer sent internal-scoped topic, dropping")
		return
	}

	it, err := d.pool.Acquire(decoded.Msg, decoded.TTL, decoded.Origin, decoded.Scope)
	if err != nil {
		d.log.WithError(err).Warn("dropping inbound item: pool exhausted")
		return
	}
	it.Path = append(it.Path, decoded.Path...)

	d.route(it, from)
}

// route implements the seven-step forwarding rule from spec.md §4.F:
// TTL check, loop check, local delivery, then peer fanout with split
// horizon and path-vector extension.
func (d *Dispatcher) route(it *itempool.Item, from *peerlink.Peer) {
	defer it.Release()

	// Step: drop items that arrived with no hops remaining.
	if it.TTL == 0 {
		return
	}

	// Step: loop suppression — never forward back through an endpoint
	// already present in the path vector.
	if brokerid.Contains(it.Path, d.cfg.LocalID) {
		return
	}

	d.deliverLocal(it)

	if it.Scope == message.ScopeLocalOnly || d.cfg.DisableForwarding {
		return
	}
	if it.Msg.Topic.IsInternal() {
		return
	}

	d.forwardToPeers(it, from)
}

func (d *Dispatcher) deliverLocal(it *itempool.Item) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, sub := range d.subscribers {
		if !sub.Filter.Match(it.Msg.Topic) {
			continue
		}
		if !sub.Q.Produce(it.Retain()) {
			it.Release() // queue full or closed: drop this delivery, not the item
		}
	}
}

func (d *Dispatcher) forwardToPeers(it *itempool.Item, from *peerlink.Peer) {
	d.mu.RLock()
	peers := make([]*peerlink.Peer, 0, len(d.peers))
	for id, p := range d.peers {
		if from != nil && id == from.ID() {
			continue // split horizon: never forward back to the sender
		}
		peers = append(peers, p)
	}
	d.mu.RUnlock()

	for _, p := range peers {
		if !p.Filter().Match(it.Msg.Topic) {
			continue
		}
		if brokerid.Contains(it.Path, p.ID()) {
			continue
		}
		fwd, err := it.WithForward(d.cfg.LocalID)
		if err != nil {
			d.log.WithError(err).WithField("peer", p.ID()).Debug("forward dropped: pool exhausted")
			continue
		}
		payload := wire.EncodeItem(fwd.Msg, fwd.TTL, fwd.Origin, fwd.Scope, fwd.Path)
		go func(p *peerlink.Peer, fwd *itempool.Item, payload []byte) {
			defer fwd.Release()
			if err := p.SendItem(payload); err != nil {
				d.log.WithError(err).WithField("peer", p.ID()).Debug("forward dropped")
			}
		}(p, fwd, payload)
	}
}

func (d *Dispatcher) handlePathUpdate(from *peerlink.Peer, f wire.Frame) {
	u, err := wire.DecodePathUpdate(f.Payload)
	if err != nil {
		d.log.WithError(err).WithField("peer", from.ID()).Warn("dropping malformed path_update")
		return
	}

	now := time.Now()
	if u.Withdraw {
		if d.table.Withdraw(from.ID(), u.Dest, now) && !d.cfg.DisableForwarding {
			d.broadcastPathUpdate(u, from.ID())
		}
		return
	}

	result := d.table.ReceiveAdvertisement(from.ID(), routingtable.Advertisement{
		Dest:    u.Dest,
		Version: u.Version,
		Path:    u.Path,
	}, now)

	if result.Outcome == routingtable.OutcomeInstalled && !d.cfg.DisableForwarding {
		d.broadcastPathUpdate(wire.PathUpdate{
			Dest:    result.Rebroadcast.Dest,
			Version: result.Rebroadcast.Version,
			Path:    result.Rebroadcast.Path,
		}, from.ID())
	}
}

func (d *Dispatcher) broadcastPathUpdate(u wire.PathUpdate, exclude brokerid.ID) {
	d.mu.RLock()
	peers := make([]*peerlink.Peer, 0, len(d.peers))
	for id, p := range d.peers {
		if id == exclude {
			continue
		}
		peers = append(peers, p)
	}
	d.mu.RUnlock()

	payload := wire.EncodePathUpdate(u)
	for _, p := range peers {
		if err := p.SendControl(wire.TypePathUpdate, payload); err != nil {
			d.log.WithError(err).WithField("peer", p.ID()).Debug("path_update broadcast dropped")
		}
	}
}

// CombinedFilter merges every local subscriber's filter into one,
// for advertising this endpoint's full interest to a newly synced
// peer.
func (d *Dispatcher) CombinedFilter() *topic.Filter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	combined := topic.NewFilter()
	for _, sub := range d.subscribers {
		for _, t := range sub.Filter.Snapshot() {
			combined.Add(t)
		}
	}
	return combined
}

// AdvertiseLocalSubscription pushes a topic filter delta for a local
// subscriber to every peer, generalizing local interest into a
// path-vector-style advertisement rooted at this endpoint (spec.md
// §4.D's SYNCING phase handles the initial full sync; this handles
// deltas after a subscriber's filter changes).
func (d *Dispatcher) AdvertiseLocalSubscription(added, removed []topic.Topic, version uint64) {
	if d.cfg.DisableForwarding {
		return
	}
	payload := wire.EncodeSubUpdate(wire.SubUpdate{Version: version, Added: added, Removed: removed})
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.peers {
		if err := p.SendControl(wire.TypeSubUpdate, payload); err != nil {
			d.log.WithError(err).WithField("peer", p.ID()).Debug("sub_update broadcast dropped")
		}
	}
}
