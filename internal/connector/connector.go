// Package connector implements component E: acquiring transport
// handles for configured remote addresses, retrying with exponential
// backoff and jitter, and reporting permanent failure on the status
// topic.
package connector

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brokermesh/brokermesh/internal/brokererr"
)

// Config tunes the connector's retry schedule.
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Jitter      float64 // fraction, e.g. 0.2 for +/-20%
	RetryLimit  int     // 0 = unlimited
	DialTimeout time.Duration
}

// SetDefaults fills unset fields with spec.md §4.E's defaults: base 1s,
// cap 60s, jitter +/-20%.
func (c *Config) SetDefaults() {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Dialer opens the duplex byte channel to a remote address. Production
// callers pass net.Dial (optionally tls.Dial); tests pass a fake.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Target identifies one configured remote peer address.
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Connector dials configured peer addresses with backoff, handing
// successful connections to onConnect and reporting permanent failure
// via onUnavailable.
type Connector struct {
	cfg    Config
	dial   Dialer
	logger *logrus.Entry

	onConnect     func(target Target, conn net.Conn)
	onUnavailable func(target Target, err error)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New returns a connector using dial to open connections.
func New(cfg Config, dial Dialer, onConnect func(Target, net.Conn), onUnavailable func(Target, error), logger *logrus.Entry) *Connector {
	cfg.SetDefaults()
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Connector{
		cfg:           cfg,
		dial:          dial,
		onConnect:     onConnect,
		onUnavailable: onUnavailable,
		logger:        logger.WithField("component", "connector"),
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Peer begins (or restarts) the retry loop for the given target. Per
// spec.md §4.E's contract, calling Peer again for the same target
// after it was unpeered or gave up restarts the retry schedule.
func (c *Connector) Peer(ctx context.Context, target Target) {
	key := target.String()

	c.mu.Lock()
	if cancel, ok := c.cancels[key]; ok {
		cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancels[key] = cancel
	c.mu.Unlock()

	go c.retryLoop(loopCtx, target)
}

// Unpeer cancels any in-flight retry loop for the target. It does not
// disconnect an already-established peer; that is the caller's (the
// endpoint's) responsibility once it has a live peerlink.Peer.
func (c *Connector) Unpeer(target Target) {
	key := target.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[key]; ok {
		cancel()
		delete(c.cancels, key)
	}
}

func (c *Connector) retryLoop(ctx context.Context, target Target) {
	backoff := c.cfg.BaseBackoff
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		conn, err := c.dial(dialCtx, "tcp", target.String())
		cancel()

		if err == nil {
			c.logger.WithField("target", target.String()).Info("peer connected")
			c.onConnect(target, conn)
			return
		}

		attempts++
		c.logger.WithFields(logrus.Fields{
			"target":  target.String(),
			"attempt": attempts,
			"error":   err,
		}).Warn("peer dial failed, backing off")

		if c.cfg.RetryLimit > 0 && attempts >= c.cfg.RetryLimit {
			c.onUnavailable(target, fmt.Errorf("%s after %d attempts: %w", target, attempts, brokererr.ErrPeerUnavailable))
			return
		}

		wait := jitter(backoff, c.cfg.Jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
