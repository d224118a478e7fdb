package session

import (
	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/pkg/log"
)

// RetryClient connects through a connector, so failed attempts are
// retried under cfg.Policy, then asks one Enquiry on the first usable
// address. The connector is stopped and awaited on every exit path.
func RetryClient(cfg Config) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := cfg.target(); err != nil {
		return nil, err
	}
	conn, err := connector.New(connector.Config{
		Transport: cfg.Transport,
		Target:    cfg.Endpoint,
		Policy:    cfg.Policy,
		Metrics:   cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		logger := log.With(u.Logger(), log.String("endpoint", cfg.Endpoint.String()))
		addr, err := u.Spawn("connector", conn)
		if err != nil {
			return exchange.Failed{Err: err}
		}

		o := retryExchange(u, cfg, addr)
		disconnect(u, addr)
		logger.Info("finished", log.String("outcome", o.String()))
		return o
	}, nil
}

// retryExchange waits for the connector and runs the exchange.
func retryExchange(u *actor.Unit, cfg Config, conn actor.Address) exchange.Outcome {
	ctx := u.Context()
	m, err := u.SelectFunc(ctx, 0, func(m actor.Message) bool {
		if m.Kind == actor.Stop {
			return true
		}
		return m.From == conn && (m.Kind == actor.UsableAddress || m.Kind == actor.NotUsable)
	})
	if err != nil {
		return exchange.Aborted{}
	}

	switch m.Kind {
	case actor.Stop:
		return exchange.Aborted{}
	case actor.NotUsable:
		return record(cfg.Metrics, exchange.Failed{Err: m.Body.(connector.Unusable).Reason})
	}

	peer := m.Body.(connector.Usable).Address
	return record(cfg.Metrics, exchange.Issue(ctx, u, peer, actor.Enquiry, nil, cfg.Deadline, Replies...))
}

// disconnect stops a connector and waits for it to complete. A connector
// that has already finished refuses the Stop.
func disconnect(u *actor.Unit, conn actor.Address) {
	if err := u.Send(conn, actor.Stop, nil); err != nil {
		return
	}
	_, _ = u.SelectFunc(u.Context(), 0, func(m actor.Message) bool {
		return m.Kind == actor.Completed && m.From == conn
	})
}
