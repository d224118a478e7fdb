// Package connector keeps one outbound connection usable.
//
// A connector retries its target with backoff and tells its owner only
// about transitions: UsableAddress when a connection comes up, AddressLost
// when it drops, and NotUsable when it gives up or is stopped. Individual
// failed attempts are never reported.
package connector

import (
	"fmt"
	"math/rand"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/metrics"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

// State is the connector's view of its target.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateBackoff
	StateConnected
)

var stateNames = []string{"disconnected", "connecting", "backoff", "connected"}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Usable is the body of UsableAddress.
type Usable struct {
	Target  transport.Endpoint
	Address actor.Address
}

// Unusable is the body of NotUsable and the connector's completion value
// when it gives up.
type Unusable struct {
	Target transport.Endpoint
	Reason error
}

// Lost is the body of AddressLost.
type Lost struct {
	Target  transport.Endpoint
	Address actor.Address
	Err     error
}

// Subject returns the address that was lost.
func (l Lost) Subject() actor.Address { return l.Address }

// Record is a snapshot of a connector.
type Record struct {
	Target   transport.Endpoint
	State    State
	Failures int
	Link     actor.Address
}

// Config describes one connector.
type Config struct {
	Transport *transport.Transport
	Target    transport.Endpoint
	Policy    Policy
	Metrics   *metrics.Metrics
	// Rand drives backoff jitter. Nil seeds a private source.
	Rand *rand.Rand
	// Observe, when set, receives a Record after every message the
	// connector handles. It runs on the connector's goroutine.
	Observe func(Record)
}

type connector struct {
	cfg     Config
	u       *actor.Unit
	logger  log.Logger
	rng     *rand.Rand
	attempt *transport.Attempt
	rec     Record
}

// New returns the body of a connector unit. Notifications go to the unit
// that spawns it.
func New(cfg Config) (actor.Body, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("connector needs a transport: %w", domain.ErrInvalidConfig)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		c := &connector{
			cfg:    cfg,
			u:      u,
			logger: log.With(u.Logger(), log.String("target", cfg.Target.String())),
			rng:    cfg.Rand,
			rec:    Record{Target: cfg.Target},
		}
		if c.rng == nil {
			c.rng = rand.New(rand.NewSource(u.Clock().Now().UnixNano()))
		}
		t := c.table().Observe(func(_, to State, _ actor.Kind) {
			c.rec.State = to
			if cfg.Observe != nil {
				cfg.Observe(c.rec)
			}
		})
		return t.Run(u, StateDisconnected)
	}, nil
}

func (c *connector) table() *actor.Table[State] {
	t := actor.NewTable[State]("connector", stateNames...)
	t.On(StateDisconnected, actor.Start, c.start)
	t.On(StateConnecting, actor.Connected, c.connected)
	t.On(StateConnecting, actor.NotConnected, c.failed)
	t.On(StateBackoff, actor.Timer, c.retry)
	t.On(StateConnected, actor.Abandoned, c.lost)
	t.On(StateConnected, actor.Closed, c.lost)
	t.OnAny(actor.Stop, c.stop, StateDisconnected, StateConnecting, StateBackoff, StateConnected)
	// A connection that completes after its attempt was superseded is closed.
	t.OnAny(actor.Connected, c.stray, StateDisconnected, StateBackoff, StateConnected)
	return t
}

func (c *connector) start(actor.Message) State {
	c.logger.Info("connecting")
	return c.dial()
}

func (c *connector) dial() State {
	c.attempt = c.cfg.Transport.Connect(c.u.Addr(), c.cfg.Target)
	return StateConnecting
}

func (c *connector) connected(m actor.Message) State {
	body := m.Body.(transport.Connected)
	c.attempt = nil
	c.rec.Failures = 0
	c.rec.Link = body.Link

	c.logger.Info("address usable", log.String("address", string(body.Link)))
	c.cfg.Metrics.AddressUsable(c.cfg.Target.String())
	_ = c.u.Send(c.u.Parent(), actor.UsableAddress, Usable{Target: c.cfg.Target, Address: body.Link})
	return StateConnected
}

func (c *connector) failed(m actor.Message) State {
	body := m.Body.(transport.NotConnected)
	c.attempt = nil
	c.rec.Failures++

	if c.cfg.Policy.Exhausted(c.rec.Failures) {
		reason := fmt.Errorf("%s after %d attempts: %v: %w", c.cfg.Target, c.rec.Failures, body.Err, domain.ErrRetriesExhausted)
		c.logger.Warn("giving up", log.Err(reason))
		return c.finish(reason)
	}

	delay := c.cfg.Policy.Delay(c.rec.Failures, c.rng)
	c.logger.Debug("connect failed",
		log.Err(body.Err),
		log.Int("failures", c.rec.Failures),
		log.Duration("retry_in", delay),
	)
	c.u.StartTimer(actor.Timer, delay)
	return StateBackoff
}

func (c *connector) retry(actor.Message) State {
	return c.dial()
}

func (c *connector) lost(m actor.Message) State {
	if m.From != c.rec.Link {
		return StateConnected
	}
	var err error
	if body, ok := m.Body.(transport.Abandoned); ok {
		err = body.Err
	}
	lost := Lost{Target: c.cfg.Target, Address: c.rec.Link, Err: err}
	c.rec.Link = ""

	c.logger.Info("address lost", log.String("address", string(lost.Address)), log.String("on_loss", c.cfg.Policy.OnLoss.String()))
	c.cfg.Metrics.AddressLost(c.cfg.Target.String())
	_ = c.u.Send(c.u.Parent(), actor.AddressLost, lost)

	if c.cfg.Policy.OnLoss == Halt {
		c.u.Complete(lost)
		return StateDisconnected
	}
	return c.dial()
}

func (c *connector) stray(m actor.Message) State {
	if body, ok := m.Body.(transport.Connected); ok && body.Link != c.rec.Link {
		_ = c.u.Send(body.Link, actor.Close, nil)
	}
	return c.rec.State
}

func (c *connector) stop(actor.Message) State {
	if link := c.attempt.Cancel(); link != "" {
		_ = c.u.Send(link, actor.Close, nil)
	}
	c.attempt = nil
	c.u.CancelTimer(actor.Timer)
	if c.rec.Link != "" {
		_ = c.u.Send(c.rec.Link, actor.Close, nil)
		c.rec.Link = ""
	}
	c.logger.Info("stopped")
	return c.finish(fmt.Errorf("%s: %w", c.cfg.Target, domain.ErrStopped))
}

func (c *connector) finish(reason error) State {
	v := Unusable{Target: c.cfg.Target, Reason: reason}
	_ = c.u.Send(c.u.Parent(), actor.NotUsable, v)
	c.u.Complete(v)
	return StateDisconnected
}
