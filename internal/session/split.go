package session

import (
	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

// ServerSession answers Enquiry with Ack on one accepted link. It completes
// with Abandoned when its link ends and with Aborted when stopped.
func ServerSession(cfg Config) transport.SessionFactory {
	return func(peer actor.Address) actor.Body {
		return func(u *actor.Unit) any {
			logger := log.With(u.Logger(), log.String("peer", string(peer)))
			t := actor.NewTable[state]("server-session", stateNames...)
			t.On(stateInitial, actor.Start, func(actor.Message) state {
				logger.Debug("session started")
				return stateRunning
			})
			t.On(stateRunning, actor.Enquiry, func(m actor.Message) state {
				if err := u.Reply(m, actor.Ack, nil); err != nil {
					logger.Warn("ack not sent", log.Err(err))
				}
				return stateRunning
			})
			t.On(stateRunning, actor.Stop, func(actor.Message) state {
				u.Complete(exchange.Aborted{})
				return stateInitial
			})
			gone := func(m actor.Message) state {
				if !m.From.Via(peer) {
					rejectUnexpected(logger, cfg, m)
					return stateRunning
				}
				logger.Debug("link ended", log.String("kind", m.Kind.String()))
				u.Complete(exchange.Abandoned{Peer: peer})
				return stateInitial
			}
			t.On(stateRunning, actor.Closed, gone)
			t.On(stateRunning, actor.Abandoned, gone)
			t.Otherwise(stateRunning, func(m actor.Message) state {
				rejectUnexpected(logger, cfg, m)
				return stateRunning
			})
			return t.Run(u, stateInitial)
		}
	}
}

// ClientSession issues one Enquiry on a connected link and completes with
// the outcome. Its completion closes the link, and the outcome reaches the
// controller as the Value of Closed.
func ClientSession(cfg Config) transport.SessionFactory {
	return func(peer actor.Address) actor.Body {
		return func(u *actor.Unit) any {
			ex := exchange.New(peer, cfg.Deadline, Replies...)
			t := actor.NewTable[state]("client-session", stateNames...)
			t.On(stateInitial, actor.Start, func(actor.Message) state {
				if err := ex.Begin(u, actor.Enquiry, nil); err != nil {
					u.Complete(record(cfg.Metrics, exchange.Failed{Err: err}))
				}
				return stateRunning
			})
			t.Otherwise(stateRunning, func(m actor.Message) state {
				if o, ok := ex.Classify(u, m); ok {
					u.Complete(record(cfg.Metrics, o))
				}
				return stateRunning
			})
			return t.Run(u, stateInitial)
		}
	}
}

type sessionClient struct {
	cfg     Config
	u       *actor.Unit
	logger  log.Logger
	attempt *transport.Attempt
	link    actor.Address
}

// SessionClient returns the body of a connect-side controller whose
// exchange runs in a ClientSession. It completes with the session's own
// outcome when the link closes cleanly, or Abandoned when it is lost.
func SessionClient(cfg Config) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := cfg.target(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		c := &sessionClient{
			cfg:    cfg,
			u:      u,
			logger: log.With(u.Logger(), log.String("endpoint", cfg.Endpoint.String())),
		}
		return c.table().Run(u, stateInitial)
	}, nil
}

func (c *sessionClient) table() *actor.Table[state] {
	t := actor.NewTable[state]("session-client", stateNames...)
	t.On(stateInitial, actor.Start, c.start)
	t.On(stateStarting, actor.Connected, c.connected)
	t.On(stateStarting, actor.NotConnected, c.notConnected)
	t.On(stateStarting, actor.Stop, c.cancel)
	t.On(stateRunning, actor.Closed, c.closed)
	t.On(stateRunning, actor.Abandoned, c.abandoned)
	t.On(stateRunning, actor.Stop, c.stop)
	t.Otherwise(stateRunning, func(m actor.Message) state {
		c.logger.Warn("unexpected message", log.String("kind", m.Kind.String()), log.String("from", string(m.From)))
		return stateRunning
	})
	return t
}

func (c *sessionClient) start(actor.Message) state {
	c.logger.Info("connecting")
	c.attempt = c.cfg.Transport.Connect(c.u.Addr(), c.cfg.Endpoint, transport.WithSession(ClientSession(c.cfg)))
	return stateStarting
}

func (c *sessionClient) connected(m actor.Message) state {
	c.attempt = nil
	c.link = m.Body.(transport.Connected).Link
	c.logger.Info("connected", log.String("link", string(c.link)))
	return stateRunning
}

func (c *sessionClient) notConnected(m actor.Message) state {
	err := m.Body.(transport.NotConnected).Err
	c.logger.Error("connect failed", log.Err(err))
	return c.finish(exchange.Failed{Err: err})
}

func (c *sessionClient) cancel(actor.Message) state {
	abandon(c.u, c.attempt)
	return c.finish(exchange.Aborted{})
}

func (c *sessionClient) closed(m actor.Message) state {
	body := m.Body.(transport.Closed)
	if o, ok := body.Value.(exchange.Outcome); ok {
		return c.finish(o)
	}
	c.logger.Warn("link closed without an outcome", log.Any("value", body.Value))
	return c.finish(record(c.cfg.Metrics, exchange.Abandoned{Peer: c.link}))
}

func (c *sessionClient) abandoned(m actor.Message) state {
	c.logger.Info("link abandoned", log.Err(m.Body.(transport.Abandoned).Err))
	return c.finish(record(c.cfg.Metrics, exchange.Abandoned{Peer: c.link}))
}

func (c *sessionClient) stop(actor.Message) state {
	_ = c.u.Send(c.link, actor.Close, nil)
	return c.finish(exchange.Aborted{})
}

func (c *sessionClient) finish(o exchange.Outcome) state {
	c.logger.Info("finished", log.String("outcome", o.String()))
	c.u.Complete(o)
	return stateInitial
}
