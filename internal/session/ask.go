package session

import (
	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

// AskClient is Client written as straight-line code: it waits for the
// connection, asks one Enquiry and returns the outcome.
func AskClient(cfg Config) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if err := cfg.target(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		logger := log.With(u.Logger(), log.String("endpoint", cfg.Endpoint.String()))
		ctx := u.Context()

		attempt := cfg.Transport.Connect(u.Addr(), cfg.Endpoint)
		m, err := u.Select(ctx, 0, actor.Connected, actor.NotConnected, actor.Stop)
		if err != nil {
			abandon(u, attempt)
			return exchange.Aborted{}
		}
		switch m.Kind {
		case actor.Stop:
			abandon(u, attempt)
			return exchange.Aborted{}
		case actor.NotConnected:
			err := m.Body.(transport.NotConnected).Err
			logger.Error("connect failed", log.Err(err))
			return exchange.Failed{Err: err}
		}

		link := m.Body.(transport.Connected).Link
		o := record(cfg.Metrics, exchange.Issue(ctx, u, link, actor.Enquiry, nil, cfg.Deadline, Replies...))
		if _, lost := o.(exchange.Abandoned); !lost {
			_ = u.Send(link, actor.Close, nil)
		}
		logger.Info("finished", log.String("outcome", o.String()))
		return o
	}, nil
}

// abandon cancels a connect attempt and closes its link if Connected was
// already posted.
func abandon(u *actor.Unit, a *transport.Attempt) {
	if link := a.Cancel(); link != "" {
		_ = u.Send(link, actor.Close, nil)
	}
}
