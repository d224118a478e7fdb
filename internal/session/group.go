package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/group"
	"github.com/bft-labs/peerlink/internal/transport"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Peer is a named group member.
type Peer struct {
	Name     string
	Endpoint transport.Endpoint
}

// GroupOptions configures the group built by GroupClient and GroupSession.
type GroupOptions struct {
	Peers []Peer
	// Deadline and Strict are passed to the group. The client enforces
	// its own ReadyDeadline regardless.
	Deadline time.Duration
	Strict   bool
}

func groupConfig(cfg Config, opts GroupOptions) (group.Config, error) {
	gc := group.Config{Deadline: opts.Deadline, Strict: opts.Strict, Metrics: cfg.Metrics}
	for _, p := range opts.Peers {
		m, err := group.Connect(p.Name, connector.Config{
			Transport: cfg.Transport,
			Target:    p.Endpoint,
			Policy:    cfg.Policy,
			Metrics:   cfg.Metrics,
		})
		if err != nil {
			return gc, err
		}
		gc.Members = append(gc.Members, m)
	}
	return gc, gc.Validate()
}

// GroupClient connects to every peer through a group, waits up to
// cfg.ReadyDeadline for the group to become ready, then asks each peer
// one Enquiry in order. It completes with the first unsuccessful outcome,
// or the last outcome when every peer answered.
func GroupClient(cfg Config, opts GroupOptions) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	gc, err := groupConfig(cfg, opts)
	if err != nil {
		return nil, err
	}
	body, err := group.New(gc)
	if err != nil {
		return nil, err
	}
	names := gc.Names()

	return func(u *actor.Unit) any {
		logger := u.Logger()
		ctx := u.Context()
		g, err := u.Spawn("group", body)
		if err != nil {
			return exchange.Failed{Err: err}
		}
		table := group.NewTable(names...)

		o, settled := awaitReady(ctx, u, cfg, g, table)
		if o == nil {
			o = askAll(ctx, u, cfg, names, table.Addresses())
		}
		if !settled {
			dissolve(u, g)
		}
		logger.Info("finished", log.String("outcome", o.String()))
		return o
	}, nil
}

// awaitReady returns nil once the group is ready. Otherwise it returns
// the outcome and whether the group has already completed.
func awaitReady(ctx context.Context, u *actor.Unit, cfg Config, g actor.Address, table *group.Table) (exchange.Outcome, bool) {
	deadline := u.Clock().Now().Add(cfg.ReadyDeadline)
	for {
		remaining := deadline.Sub(u.Clock().Now())
		if remaining <= 0 {
			return readyTimeout(u, cfg, table), false
		}
		m, err := u.SelectFunc(ctx, remaining, func(m actor.Message) bool {
			return m.Kind == actor.Stop || m.From == g
		})
		if err != nil {
			return exchange.Aborted{}, false
		}
		switch m.Kind {
		case actor.SelectTimer:
			return readyTimeout(u, cfg, table), false
		case actor.Stop:
			return exchange.Aborted{}, false
		case actor.GroupUpdate:
			table.Update(m)
		case actor.Ready:
			u.Logger().Info("group ready")
			return nil, false
		case actor.Completed:
			return groupOutcome(m.Body), true
		}
	}
}

func readyTimeout(u *actor.Unit, cfg Config, table *group.Table) exchange.Outcome {
	u.Logger().Warn("group not ready",
		log.Duration("deadline", cfg.ReadyDeadline),
		log.Any("missing", table.Missing()),
	)
	return record(cfg.Metrics, exchange.TimedOut{After: cfg.ReadyDeadline})
}

// groupOutcome converts a group's completion value. A group whose
// members all gave up completes with the last member's value.
func groupOutcome(v any) exchange.Outcome {
	switch v := v.(type) {
	case exchange.Outcome:
		return v
	case connector.Unusable:
		return exchange.Failed{Err: v.Reason}
	case connector.Lost:
		return exchange.Abandoned{Peer: v.Address}
	case error:
		return exchange.Failed{Err: v}
	}
	return exchange.Failed{Err: fmt.Errorf("group completed with %v: %w", v, domain.ErrNotRunning)}
}

// askAll asks each member in order and stops at the first unsuccessful
// outcome.
func askAll(ctx context.Context, u *actor.Unit, cfg Config, names []string, addrs group.Addresses) exchange.Outcome {
	var o exchange.Outcome = exchange.Aborted{}
	for _, name := range names {
		o = record(cfg.Metrics, askMember(ctx, u, cfg, name, addrs[name]))
		u.Logger().Info("member answered", log.String("member", name), log.String("outcome", o.String()))
		if !exchange.IsSuccess(o) {
			return o
		}
	}
	return o
}

// askMember runs one exchange with a member. The group reports a member's
// regression to its session as NotReady naming the member, which abandons
// the exchange with that member only.
func askMember(ctx context.Context, u *actor.Unit, cfg Config, name string, addr actor.Address) exchange.Outcome {
	ex := exchange.New(addr, cfg.Deadline, Replies...)
	if err := ex.Begin(u, actor.Enquiry, nil); err != nil {
		return exchange.Failed{Err: err}
	}
	regressed := func(m actor.Message) bool {
		return m.Kind == actor.NotReady && m.From == u.Parent() && m.Body == name
	}
	m, err := u.SelectFunc(ctx, 0, func(m actor.Message) bool {
		return ex.Concerns(m) || regressed(m)
	})
	if err != nil {
		u.CancelTimer(actor.Timer)
		return exchange.Aborted{}
	}
	if regressed(m) {
		return ex.Lose(u)
	}
	o, _ := ex.Classify(u, m)
	return o
}

// dissolve stops a group and waits for it to complete.
func dissolve(u *actor.Unit, g actor.Address) {
	if err := u.Send(g, actor.Stop, nil); err != nil {
		return
	}
	_, _ = u.SelectFunc(u.Context(), 0, func(m actor.Message) bool {
		return m.Kind == actor.Completed && m.From == g
	})
}

// GroupSession hands the exchanges to a session the group spawns when it
// becomes ready. The session's outcome becomes the group's, and this
// controller completes with it. Stop dissolves the group.
func GroupSession(cfg Config, opts GroupOptions) (actor.Body, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	gc, err := groupConfig(cfg, opts)
	if err != nil {
		return nil, err
	}
	names := gc.Names()
	gc.Session = func(addrs group.Addresses) actor.Body {
		return func(u *actor.Unit) any {
			return askAll(u.Context(), u, cfg, names, addrs)
		}
	}
	body, err := group.New(gc)
	if err != nil {
		return nil, err
	}

	return func(u *actor.Unit) any {
		g, err := u.Spawn("group", body)
		if err != nil {
			return exchange.Failed{Err: err}
		}
		table := group.NewTable(names...)
		for {
			m, err := u.SelectFunc(u.Context(), 0, func(m actor.Message) bool {
				return m.Kind == actor.Stop || m.From == g
			})
			if err != nil {
				return exchange.Aborted{}
			}
			switch m.Kind {
			case actor.Stop:
				_ = u.Send(g, actor.Stop, nil)
			case actor.GroupUpdate:
				table.Update(m)
			case actor.Ready:
				u.Logger().Info("group ready", log.Int("members", len(table.Addresses())))
			case actor.NotReady:
				u.Logger().Info("group not ready", log.Any("member", m.Body))
			case actor.Completed:
				o := groupOutcome(m.Body)
				u.Logger().Info("finished", log.String("outcome", o.String()))
				return o
			}
		}
	}, nil
}
