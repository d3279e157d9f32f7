// Package endpoint is the public façade (component H): it wires the
// topic filter engine, item pool, routing table, peer transport, and
// dispatcher into one broker instance, generalizing the teacher's
// GRPCMeshNode orchestration (New/Start/Stop/Close, mutex-guarded
// lifecycle state) to the path-vector pub/sub broker's semantics.
package endpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/brokermesh/internal/config"
	"github.com/brokermesh/brokermesh/internal/connector"
	"github.com/brokermesh/brokermesh/internal/dispatch"
	"github.com/brokermesh/brokermesh/internal/health"
	"github.com/brokermesh/brokermesh/internal/itempool"
	"github.com/brokermesh/brokermesh/internal/peerlink"
	"github.com/brokermesh/brokermesh/internal/queue"
	"github.com/brokermesh/brokermesh/internal/recorder"
	"github.com/brokermesh/brokermesh/internal/routingtable"
	"github.com/brokermesh/brokermesh/pkg/brokerid"
	"github.com/brokermesh/brokermesh/pkg/message"
	"github.com/brokermesh/brokermesh/pkg/topic"
)

// Options configures a new Endpoint. TLSConfig is only consulted when
// cfg.DisableSSL is false; a nil TLSConfig with SSL enabled is a
// configuration error, since plaintext peer links are otherwise the
// norm for local/test deployments.
type Options struct {
	ID        brokerid.ID // zero value: a fresh id is generated
	Config    config.Config
	TLSConfig *tls.Config
	Logger    *logrus.Entry
}

// Endpoint is one broker instance: local publish/subscribe plus
// forwarding to directly peered endpoints.
type Endpoint struct {
	id  brokerid.ID
	cfg config.Config
	log *logrus.Entry

	pool       *itempool.Pool
	table      *routingtable.Table
	dispatcher *dispatch.Dispatcher
	shaker     *peerlink.Handshaker
	conn       *connector.Connector
	health     *health.Server
	rec        *recorder.Recorder

	tlsConfig *tls.Config

	mu        sync.Mutex
	listener  net.Listener
	started   bool
	closed    bool
	nextSubID int
}

// New builds an Endpoint from opts. It does not start listening or
// dialing any peer; call Listen and Peer for that.
func New(opts Options) (*Endpoint, error) {
	id := opts.ID
	if id.IsNil() {
		id = brokerid.New()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("endpoint", id.String())

	if !opts.Config.DisableSSL && opts.TLSConfig == nil {
		return nil, fmt.Errorf("endpoint: tls config required unless disable_ssl is set")
	}

	pool := itempool.New(1024, 65536)
	table := routingtable.New(id, 30*time.Second)

	disp := dispatch.New(dispatch.Config{
		LocalID:           id,
		DefaultTTL:        opts.Config.InitialTTL,
		BatchSize:         opts.Config.BatchSize,
		DisableForwarding: opts.Config.DisableForwarding,
	}, pool, table, logger)

	var rec *recorder.Recorder
	if opts.Config.RecordingDirectory != "" {
		r, err := recorder.Open(opts.Config.RecordingDirectory, opts.Config.OutputGeneratorFileCap, logger)
		if err != nil {
			return nil, fmt.Errorf("endpoint: open recorder: %w", err)
		}
		rec = r
	}

	e := &Endpoint{
		id:         id,
		cfg:        opts.Config,
		log:        logger,
		pool:       pool,
		table:      table,
		dispatcher: disp,
		health:     health.New(),
		rec:        rec,
		tlsConfig:  opts.TLSConfig,
	}

	e.shaker = peerlink.NewHandshaker(id, peerlink.Config{
		LocalID:           id.String(),
		InitialWindow:     opts.Config.InitialCredit,
		HeartbeatInterval: opts.Config.HeartbeatInterval,
		ConnectionTimeout: opts.Config.ConnectionTimeout,
		NackTimeout:       opts.Config.NackTimeout,
	}, logger, e.localState, e.onPeerDead)

	e.conn = connector.New(connector.Config{}, e.dial, e.onConnect, e.onUnavailable, logger)

	e.health.MarkServing(health.ServiceRoutingTable)
	e.health.MarkServing(health.ServiceDispatch)

	return e, nil
}

// ID returns this endpoint's identifier.
func (e *Endpoint) ID() brokerid.ID { return e.id }

// Health returns the gRPC health server backing this endpoint, for
// registration on an operator gRPC server.
func (e *Endpoint) Health() *health.Server { return e.health }

func (e *Endpoint) localState() peerlink.LocalState {
	return peerlink.LocalState{
		Filter: e.dispatcher.CombinedFilter(),
		Routes: e.table.Entries(),
	}
}

// Listen accepts incoming peer connections on ln, handshaking and
// registering each one with the dispatcher. It returns immediately;
// the accept loop runs in a background goroutine until ln is closed.
func (e *Endpoint) Listen(ln net.Listener) {
	e.mu.Lock()
	e.listener = ln
	e.mu.Unlock()
	go e.acceptLoop(ln)
}

// ListenTCP is a convenience wrapper: it opens addr (wrapped in TLS
// unless DisableSSL is set) and calls Listen.
func (e *Endpoint) ListenTCP(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("endpoint: listen %s: %w", addr, err)
	}
	if !e.cfg.DisableSSL {
		ln = tls.NewListener(ln, e.tlsConfig)
	}
	e.Listen(ln)
	return ln, nil
}

func (e *Endpoint) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			e.log.WithError(err).Debug("accept loop exiting")
			return
		}
		go e.acceptOne(conn)
	}
}

func (e *Endpoint) acceptOne(conn net.Conn) {
	p, err := e.shaker.Accept(conn)
	if err != nil {
		e.log.WithError(err).Warn("inbound peer handshake failed")
		return
	}
	e.registerPeer(p)
}

// Peer dials addr and, once connected and synced, registers it as a
// forwarding peer. Connection retries with backoff per
// internal/connector; the endpoint's connector has no retry limit, so
// dialing continues until Unpeer. If the connector does give up, the
// failure is logged and published on the internal statuses topic.
func (e *Endpoint) Peer(ctx context.Context, addr string) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		e.log.WithError(err).WithField("addr", addr).Warn("invalid peer address")
		return
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	e.conn.Peer(ctx, connector.Target{Host: host, Port: port})
}

// Unpeer cancels any in-flight dial retry loop for addr. It does not
// tear down an already-established link; use Shutdown for that, or a
// future explicit disconnect once addr->peer-id tracking is needed.
func (e *Endpoint) Unpeer(addr string) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	e.conn.Unpeer(connector.Target{Host: host, Port: port})
}

func (e *Endpoint) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	if e.cfg.DisableSSL {
		return d.DialContext(ctx, network, addr)
	}
	return tls.DialWithDialer(&net.Dialer{}, network, addr, e.tlsConfig)
}

func (e *Endpoint) onConnect(target connector.Target, conn net.Conn) {
	p, err := e.shaker.Dial(conn)
	if err != nil {
		e.log.WithError(err).WithField("target", target.String()).Warn("outbound peer handshake failed")
		conn.Close()
		return
	}
	e.registerPeer(p)
}

func (e *Endpoint) onUnavailable(target connector.Target, err error) {
	e.log.WithError(err).WithField("target", target.String()).Warn("peer permanently unavailable")
	status := message.NewData(topic.Statuses, []byte(err.Error()))
	if perr := e.dispatcher.Publish(status, message.ScopeLocalOnly); perr != nil {
		e.log.WithError(perr).Warn("could not publish peer_unavailable status")
	}
}

func (e *Endpoint) registerPeer(p *peerlink.Peer) {
	e.dispatcher.AddPeer(p)
	e.health.MarkServing(health.ServicePeerLink)
	e.log.WithField("peer", p.ID().String()).Info("peer link established")
}

func (e *Endpoint) onPeerDead(p *peerlink.Peer, err error) {
	e.dispatcher.RemovePeer(p.ID())
	e.log.WithError(err).WithField("peer", p.ID().String()).Warn("peer link lost")
}

// Publish injects a locally originated message into the dispatcher.
// Routable messages may be forwarded to peers whose advertised filter
// matches; local-only messages never leave this endpoint.
func (e *Endpoint) Publish(t topic.Topic, payload []byte, scope message.Scope) error {
	if e.rec != nil {
		e.rec.Record(t.String(), payload)
	}
	return e.dispatcher.Publish(message.NewData(t, payload), scope)
}

// PublishCommand injects a locally originated store command.
func (e *Endpoint) PublishCommand(t topic.Topic, cmd message.StoreCommand) error {
	return e.dispatcher.Publish(message.NewCommand(t, cmd), message.ScopeRoutable)
}

// Subscription is a live local subscription: a topic filter plus the
// delivery queue the dispatcher fans matching items into.
type Subscription struct {
	id  string
	sub *queue.Subscriber
	ep  *Endpoint
}

// Subscribe registers interest in every topic matching filter and
// advertises this subscription's filters to peers as added topics
// (unless forwarding is disabled).
func (e *Endpoint) Subscribe(filters ...topic.Topic) (*Subscription, error) {
	e.mu.Lock()
	e.nextSubID++
	id := fmt.Sprintf("sub-%d", e.nextSubID)
	e.mu.Unlock()

	sub := queue.NewSubscriber(id, 256)
	var version uint64
	for _, f := range filters {
		version = sub.Filter.Add(f)
	}
	e.dispatcher.AddSubscriber(sub)
	e.dispatcher.AdvertiseLocalSubscription(filters, nil, version)

	return &Subscription{id: id, sub: sub, ep: e}, nil
}

// Next blocks until an item is available, ctx is done, or the
// subscription is closed, then returns its topic and payload.
func (s *Subscription) Next(ctx context.Context) (topic.Topic, []byte, error) {
	for {
		s.sub.Q.Wait(ctx.Done())
		if ctx.Err() != nil {
			return topic.Topic{}, nil, ctx.Err()
		}

		var t topic.Topic
		var payload []byte
		var got bool
		n := s.sub.Q.Consume(1, func(it *itempool.Item) {
			t = it.Msg.Topic
			payload = append([]byte{}, it.Msg.Payload...)
			got = true
		})
		if n == 0 {
			continue // woken by close with nothing pending, or a racing consumer
		}
		if !got {
			continue
		}
		return t, payload, nil
	}
}

// Close unregisters the subscription and releases its queue.
func (s *Subscription) Close() {
	s.ep.dispatcher.RemoveSubscriber(s.id)
}

// RoutingSnapshot returns the endpoint's current best-path routing
// entries, for the status CLI.
func (e *Endpoint) RoutingSnapshot() []routingtable.Entry {
	return e.table.Entries()
}

// PoolStats returns the item pool's conservation counters.
func (e *Endpoint) PoolStats() itempool.Stats {
	return e.pool.Stats()
}

// Shutdown closes the listener, stops the dispatcher and closes the
// recorder. Idempotent. It does not send fin to or close established
// peer links, does not cancel connector retry loops, and does not
// consult ctx.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ln := e.listener
	e.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	e.dispatcher.Close()
	if e.rec != nil {
		e.rec.Close()
	}
	return nil
}
