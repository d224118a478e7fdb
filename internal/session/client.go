package session

import (
	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

type client struct {
	cfg     Config
	u       *actor.Unit
	logger  log.Logger
	attempt *transport.Attempt
	link    actor.Address
	ex      *exchange.Exchange
}

// Client returns the body of a connect-side controller. It connects to
// cfg.Endpoint, sends one Enquiry and completes with the outcome. With
// cfg.Repeat set it instead reports each outcome to its parent as an
// Outcome message and keeps enquiring until the link ends or it is
// stopped.
func Client(cfg Config) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := cfg.target(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		c := &client{
			cfg:    cfg,
			u:      u,
			logger: log.With(u.Logger(), log.String("endpoint", cfg.Endpoint.String())),
		}
		return c.table().Run(u, stateInitial)
	}, nil
}

func (c *client) table() *actor.Table[state] {
	t := actor.NewTable[state]("client", stateNames...)
	t.On(stateInitial, actor.Start, c.start)
	t.On(stateStarting, actor.Connected, c.connected)
	t.On(stateStarting, actor.NotConnected, c.notConnected)
	t.On(stateStarting, actor.Stop, c.cancel)
	t.Otherwise(stateRunning, c.resolve)
	t.On(stateWaiting, actor.Tick, c.tick)
	t.On(stateWaiting, actor.Stop, c.stop)
	t.OnAny(actor.Closed, c.gone, stateWaiting)
	t.OnAny(actor.Abandoned, c.gone, stateWaiting)
	return t
}

func (c *client) start(actor.Message) state {
	c.logger.Info("connecting")
	c.attempt = c.cfg.Transport.Connect(c.u.Addr(), c.cfg.Endpoint)
	return stateStarting
}

func (c *client) connected(m actor.Message) state {
	c.attempt = nil
	c.link = m.Body.(transport.Connected).Link
	c.logger.Info("connected", log.String("link", string(c.link)))
	return c.begin()
}

func (c *client) notConnected(m actor.Message) state {
	err := m.Body.(transport.NotConnected).Err
	c.logger.Error("connect failed", log.Err(err))
	return c.finish(exchange.Failed{Err: err})
}

func (c *client) cancel(actor.Message) state {
	abandon(c.u, c.attempt)
	return c.finish(exchange.Aborted{})
}

func (c *client) begin() state {
	c.ex = exchange.New(c.link, c.cfg.Deadline, Replies...)
	if err := c.ex.Begin(c.u, actor.Enquiry, nil); err != nil {
		return c.finish(exchange.Failed{Err: err})
	}
	return stateRunning
}

func (c *client) resolve(m actor.Message) state {
	o, ok := c.ex.Classify(c.u, m)
	if !ok {
		return stateRunning
	}
	record(c.cfg.Metrics, o)
	if c.cfg.Repeat <= 0 {
		return c.finish(o)
	}
	switch o.(type) {
	case exchange.Abandoned, exchange.Aborted:
		return c.finish(o)
	}
	c.logger.Info("outcome", log.String("outcome", o.String()))
	_ = c.u.Send(c.u.Parent(), actor.Outcome, o)
	c.u.StartTimer(actor.Tick, c.cfg.Repeat)
	return stateWaiting
}

func (c *client) tick(actor.Message) state {
	return c.begin()
}

func (c *client) stop(actor.Message) state {
	c.u.CancelTimer(actor.Tick)
	return c.finish(exchange.Aborted{})
}

func (c *client) gone(actor.Message) state {
	c.u.CancelTimer(actor.Tick)
	o := record(c.cfg.Metrics, exchange.Abandoned{Peer: c.link})
	c.link = ""
	return c.finish(o)
}

// finish completes the controller, closing the link if it is still up.
func (c *client) finish(o exchange.Outcome) state {
	if _, lost := o.(exchange.Abandoned); !lost && c.link != "" {
		_ = c.u.Send(c.link, actor.Close, nil)
	}
	c.logger.Info("finished", log.String("outcome", o.String()))
	c.u.Complete(o)
	return stateInitial
}
