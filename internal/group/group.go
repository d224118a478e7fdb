// Package group supervises a fixed set of named members and reduces their
// usable addresses to a single readiness signal for the owner.
//
// Each member is a unit that reports UsableAddress and AddressLost to its
// parent, typically a connector. The group forwards every change to its
// owner as GroupUpdate, sends Ready once when the last missing member
// reports in and NotReady when any member regresses. Readiness is edge
// triggered; after a regression a full complement is required again.
package group

import (
	"fmt"
	"time"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/metrics"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Member is one named slot of a group.
type Member struct {
	Name string
	Body actor.Body
}

// Connect builds a member backed by a connector.
func Connect(name string, cfg connector.Config) (Member, error) {
	body, err := connector.New(cfg)
	if err != nil {
		return Member{}, fmt.Errorf("member %s: %w", name, err)
	}
	return Member{Name: name, Body: body}, nil
}

// Config describes a group.
type Config struct {
	Members []Member
	// Deadline, when positive, is how long the group may take to become
	// ready. Expiry is logged unless Strict is set, in which case the
	// group dissolves with TimedOut.
	Deadline time.Duration
	Strict   bool
	// Session, when set, is spawned the first time the group becomes
	// ready. Its completion value becomes the group's.
	Session func(Addresses) actor.Body
	Metrics *metrics.Metrics
}

// Names returns the member names in declaration order.
func (c Config) Names() []string {
	names := make([]string, len(c.Members))
	for i, m := range c.Members {
		names[i] = m.Name
	}
	return names
}

// Validate checks the member list.
func (c Config) Validate() error {
	if len(c.Members) == 0 {
		return domain.ErrEmptyGroup
	}
	seen := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		if m.Name == "" || m.Body == nil {
			return fmt.Errorf("member %q is incomplete: %w", m.Name, domain.ErrInvalidConfig)
		}
		if seen[m.Name] {
			return fmt.Errorf("%q: %w", m.Name, domain.ErrDuplicateMember)
		}
		seen[m.Name] = true
	}
	if c.Deadline < 0 {
		return fmt.Errorf("group deadline must not be negative: %w", domain.ErrInvalidConfig)
	}
	return nil
}

type state int

const (
	stateForming state = iota
	stateReady
	stateDissolving
)

// Slot is the group's record of one member.
type Slot struct {
	Name    string
	Unit    actor.Address
	Address actor.Address
	Settled bool
}

type group struct {
	cfg    Config
	u      *actor.Unit
	logger log.Logger

	slots   []*Slot
	byUnit  map[actor.Address]*Slot
	present int
	live    int

	session     actor.Address
	sessionLive bool
	value       any
}

// New returns the body of a group unit. Notifications go to the unit
// that spawns it, which receives Completed exactly once when the group
// has settled.
func New(cfg Config) (actor.Body, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func(u *actor.Unit) any {
		g := &group{
			cfg:    cfg,
			u:      u,
			logger: u.Logger(),
			byUnit: make(map[actor.Address]*Slot, len(cfg.Members)),
		}
		return g.table().Run(u, stateForming)
	}, nil
}

func (g *group) table() *actor.Table[state] {
	t := actor.NewTable[state]("group", "forming", "ready", "dissolving")
	t.On(stateForming, actor.Start, g.start)
	t.On(stateForming, actor.UsableAddress, g.usableForming)
	t.On(stateReady, actor.UsableAddress, g.usableReady)
	t.On(stateForming, actor.AddressLost, g.lostForming)
	t.On(stateReady, actor.AddressLost, g.lostReady)
	t.On(stateForming, actor.Timer, g.deadline)
	t.On(stateForming, actor.NotUsable, g.keep(stateForming, g.gaveUp))
	t.On(stateReady, actor.NotUsable, g.keep(stateReady, g.gaveUp))
	t.On(stateForming, actor.Completed, g.completedForming)
	t.On(stateReady, actor.Completed, g.completedReady)
	t.OnAny(actor.Stop, g.stop, stateForming, stateReady)
	t.On(stateDissolving, actor.Completed, g.settled)
	return t
}

func (g *group) start(actor.Message) state {
	for _, m := range g.cfg.Members {
		addr, err := g.u.Spawn(m.Name, m.Body)
		if err != nil {
			g.logger.Error("member not started", log.String("member", m.Name), log.Err(err))
			return g.dissolve(exchange.Failed{Err: err})
		}
		s := &Slot{Name: m.Name, Unit: addr}
		g.slots = append(g.slots, s)
		g.byUnit[addr] = s
		g.live++
	}
	if g.cfg.Deadline > 0 {
		g.u.StartTimer(actor.Timer, g.cfg.Deadline)
	}
	g.logger.Info("group forming", log.Int("members", len(g.slots)))
	return stateForming
}

// record applies a member's usable address and reports whether the slot
// was previously empty.
func (g *group) record(m actor.Message) (*Slot, bool) {
	s := g.byUnit[m.From]
	body, ok := m.Body.(connector.Usable)
	if s == nil || !ok {
		return nil, false
	}
	filled := s.Address == ""
	if filled {
		g.present++
	}
	s.Address = body.Address
	_ = g.u.Send(g.u.Parent(), actor.GroupUpdate, Update{Name: s.Name, Address: s.Address})
	return s, filled
}

func (g *group) usableForming(m actor.Message) state {
	if _, filled := g.record(m); !filled || g.present < len(g.slots) {
		return stateForming
	}
	g.u.CancelTimer(actor.Timer)
	g.cfg.Metrics.GroupReady()
	g.logger.Info("group ready")
	_ = g.u.Send(g.u.Parent(), actor.Ready, g.addresses())

	if g.cfg.Session != nil && g.session == "" {
		addr, err := g.u.Spawn("session", g.cfg.Session(g.addresses()))
		if err != nil {
			return g.dissolve(exchange.Failed{Err: err})
		}
		g.session, g.sessionLive = addr, true
		g.live++
	}
	return stateReady
}

func (g *group) usableReady(m actor.Message) state {
	g.record(m)
	return stateReady
}

// clear empties a member slot and reports whether it held an address.
func (g *group) clear(m actor.Message) (*Slot, bool) {
	s := g.byUnit[m.From]
	if s == nil || s.Address == "" {
		return s, false
	}
	s.Address = ""
	g.present--
	_ = g.u.Send(g.u.Parent(), actor.GroupUpdate, Update{Name: s.Name})
	return s, true
}

func (g *group) lostForming(m actor.Message) state {
	g.clear(m)
	return stateForming
}

func (g *group) lostReady(m actor.Message) state {
	s, cleared := g.clear(m)
	if !cleared {
		return stateReady
	}
	g.cfg.Metrics.GroupNotReady()
	g.logger.Info("group not ready", log.String("member", s.Name))
	_ = g.u.Send(g.u.Parent(), actor.NotReady, s.Name)
	if g.sessionLive {
		_ = g.u.Send(g.session, actor.NotReady, s.Name)
	}
	return stateForming
}

func (g *group) deadline(actor.Message) state {
	missing := g.missing()
	if g.cfg.Strict {
		g.logger.Warn("group not ready by deadline, dissolving",
			log.Duration("deadline", g.cfg.Deadline),
			log.Any("missing", missing),
		)
		return g.dissolve(exchange.TimedOut{After: g.cfg.Deadline})
	}
	g.logger.Warn("group not ready by deadline",
		log.Duration("deadline", g.cfg.Deadline),
		log.Any("missing", missing),
	)
	return stateForming
}

func (g *group) keep(s state, fn func(actor.Message)) actor.Action[state] {
	return func(m actor.Message) state {
		fn(m)
		return s
	}
}

// gaveUp logs a member that stopped trying. Its Completed follows.
func (g *group) gaveUp(m actor.Message) {
	s := g.byUnit[m.From]
	if s == nil {
		return
	}
	var reason error
	if body, ok := m.Body.(connector.Unusable); ok {
		reason = body.Reason
	}
	g.logger.Warn("member not usable", log.String("member", s.Name), log.Err(reason))
}

// completed handles a child finishing while the group is still active. It
// returns true when the group has begun dissolving.
func (g *group) completed(m actor.Message) (state, bool) {
	if g.sessionLive && m.From == g.session {
		g.sessionLive = false
		g.live--
		g.logger.Info("session completed")
		return g.dissolve(m.Body), true
	}
	s := g.byUnit[m.From]
	if s == nil || s.Settled {
		return stateForming, false
	}
	s.Settled = true
	g.live--
	if s.Address != "" {
		s.Address = ""
		g.present--
		_ = g.u.Send(g.u.Parent(), actor.GroupUpdate, Update{Name: s.Name})
	}
	if g.settledMembers() == len(g.slots) {
		g.logger.Warn("every member has completed")
		return g.dissolve(m.Body), true
	}
	return stateForming, false
}

func (g *group) completedForming(m actor.Message) state {
	next, _ := g.completed(m)
	return next
}

func (g *group) completedReady(m actor.Message) state {
	wasPresent := g.present
	next, dissolving := g.completed(m)
	if dissolving {
		return next
	}
	if g.present < wasPresent {
		g.cfg.Metrics.GroupNotReady()
		_ = g.u.Send(g.u.Parent(), actor.NotReady, g.byUnit[m.From].Name)
		if g.sessionLive {
			_ = g.u.Send(g.session, actor.NotReady, g.byUnit[m.From].Name)
		}
		return stateForming
	}
	return stateReady
}

func (g *group) stop(actor.Message) state {
	g.logger.Info("group stopping")
	return g.dissolve(exchange.Aborted{})
}

// dissolve stops every live child and completes once all have settled.
func (g *group) dissolve(value any) state {
	g.value = value
	g.u.CancelTimer(actor.Timer)
	for _, s := range g.slots {
		if !s.Settled {
			_ = g.u.Send(s.Unit, actor.Stop, nil)
		}
	}
	if g.sessionLive {
		_ = g.u.Send(g.session, actor.Stop, nil)
	}
	if g.live == 0 {
		g.u.Complete(g.value)
	}
	return stateDissolving
}

func (g *group) settled(m actor.Message) state {
	if g.sessionLive && m.From == g.session {
		g.sessionLive = false
		g.live--
	} else if s := g.byUnit[m.From]; s != nil && !s.Settled {
		s.Settled = true
		g.live--
	}
	if g.live == 0 {
		g.logger.Info("group dissolved")
		g.u.Complete(g.value)
	}
	return stateDissolving
}

func (g *group) settledMembers() int {
	n := 0
	for _, s := range g.slots {
		if s.Settled {
			n++
		}
	}
	return n
}

func (g *group) missing() []string {
	var out []string
	for _, s := range g.slots {
		if s.Address == "" {
			out = append(out, s.Name)
		}
	}
	return out
}

func (g *group) addresses() Addresses {
	a := make(Addresses, len(g.slots))
	for _, s := range g.slots {
		if s.Address != "" {
			a[s.Name] = s.Address
		}
	}
	return a
}
