package session

import (
	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

type server struct {
	cfg      Config
	u        *actor.Unit
	logger   log.Logger
	split    bool
	listener actor.Address
	links    map[actor.Address]struct{}
}

// Server returns the body of a listen-side controller that answers every
// Enquiry with Ack. Any other application message is logged as a
// rejection and the server keeps running. It completes with Aborted when
// stopped, or Failed when it cannot listen.
func Server(cfg Config) (actor.Body, error) {
	return newServer(cfg, false)
}

// SessionServer is Server with exchange handling moved to a ServerSession
// per accepted link. The controller itself only sees lifecycle events.
func SessionServer(cfg Config) (actor.Body, error) {
	return newServer(cfg, true)
}

func newServer(cfg Config, split bool) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := cfg.target(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		s := &server{
			cfg:    cfg,
			u:      u,
			logger: log.With(u.Logger(), log.String("endpoint", cfg.Endpoint.String())),
			split:  split,
			links:  make(map[actor.Address]struct{}),
		}
		return s.table().Run(u, stateInitial)
	}, nil
}

func (s *server) table() *actor.Table[state] {
	t := actor.NewTable[state]("server", stateNames...)
	t.On(stateInitial, actor.Start, s.start)
	t.On(stateStarting, actor.Listening, s.listening)
	t.On(stateStarting, actor.NotListening, s.notListening)
	t.On(stateStarting, actor.Stop, s.stop)
	t.On(stateRunning, actor.Accepted, s.accepted)
	t.On(stateRunning, actor.NotAccepted, s.notAccepted)
	t.On(stateRunning, actor.Closed, s.closed)
	t.On(stateRunning, actor.Abandoned, s.abandoned)
	t.On(stateRunning, actor.Stop, s.stop)
	if !s.split {
		t.On(stateRunning, actor.Enquiry, s.enquiry)
	}
	t.Otherwise(stateRunning, s.unexpected)
	return t
}

func (s *server) start(actor.Message) state {
	var opts []transport.Option
	if s.split {
		opts = append(opts, transport.WithSession(ServerSession(s.cfg)))
	}
	s.cfg.Transport.Listen(s.u.Addr(), s.cfg.Endpoint, opts...)
	return stateStarting
}

func (s *server) listening(m actor.Message) state {
	body := m.Body.(transport.Listening)
	s.listener = body.Listener
	s.logger.Info("listening", log.String("bound", body.Endpoint.String()))
	return stateRunning
}

func (s *server) notListening(m actor.Message) state {
	err := m.Body.(transport.NotListening).Err
	s.logger.Error("listen failed", log.Err(err))
	s.u.Complete(exchange.Failed{Err: err})
	return stateInitial
}

func (s *server) accepted(m actor.Message) state {
	body := m.Body.(transport.Accepted)
	s.links[body.Link] = struct{}{}
	s.logger.Info("accepted", log.String("link", string(body.Link)), log.String("remote", body.Remote))
	return stateRunning
}

func (s *server) notAccepted(m actor.Message) state {
	err := m.Body.(transport.NotAccepted).Err
	s.logger.Error("accept failed", log.Err(err))
	s.closeAll()
	s.u.Complete(exchange.Failed{Err: err})
	return stateInitial
}

func (s *server) closed(m actor.Message) state {
	body := m.Body.(transport.Closed)
	delete(s.links, body.Link)
	fields := []log.Field{log.String("link", string(body.Link))}
	if o, ok := body.Value.(exchange.Outcome); ok {
		fields = append(fields, log.String("session", o.String()))
	}
	s.logger.Info("closed", fields...)
	return stateRunning
}

func (s *server) abandoned(m actor.Message) state {
	body := m.Body.(transport.Abandoned)
	delete(s.links, body.Link)
	s.logger.Info("abandoned", log.String("link", string(body.Link)), log.Err(body.Err))
	return stateRunning
}

func (s *server) enquiry(m actor.Message) state {
	if err := s.u.Reply(m, actor.Ack, nil); err != nil {
		s.logger.Warn("ack not sent", log.String("to", string(m.From)), log.Err(err))
	}
	return stateRunning
}

func (s *server) unexpected(m actor.Message) state {
	rejectUnexpected(s.logger, s.cfg, m)
	return stateRunning
}

func (s *server) stop(actor.Message) state {
	s.closeAll()
	s.logger.Info("stopped")
	s.u.Complete(exchange.Aborted{})
	return stateInitial
}

func (s *server) closeAll() {
	if s.listener != "" {
		_ = s.u.Send(s.listener, actor.Close, nil)
	}
	for l := range s.links {
		_ = s.u.Send(l, actor.Close, nil)
	}
}

// rejectUnexpected logs an application message a server does not handle.
func rejectUnexpected(logger log.Logger, cfg Config, m actor.Message) {
	o := record(cfg.Metrics, exchange.Rejected{Actual: m.Kind, Expected: []actor.Kind{actor.Enquiry}})
	logger.Warn("unexpected message", log.String("from", string(m.From)), log.String("outcome", o.String()))
}
