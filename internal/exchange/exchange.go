// Package exchange drives a single request/response cycle and classifies
// how it ended.
//
// An exchange sends one request to a peer and resolves on the first of: a
// reply from that peer, a notice that the peer is gone, its deadline, or a
// Stop. A reply
// of an expected kind is Resolved; any other reply from the peer is
// Rejected. The deadline timer is disarmed on every path.
package exchange

import (
	"context"
	"slices"
	"time"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Exchange is one outstanding request. It is owned by a single unit and is
// not safe for concurrent use.
type Exchange struct {
	peer     actor.Address
	expected []actor.Kind
	deadline time.Duration
	done     bool
}

// New prepares an exchange with peer. A zero deadline waits indefinitely.
func New(peer actor.Address, deadline time.Duration, expected ...actor.Kind) *Exchange {
	return &Exchange{
		peer:     peer,
		expected: slices.Clone(expected),
		deadline: deadline,
	}
}

// Peer returns the address requests are sent to.
func (e *Exchange) Peer() actor.Address { return e.peer }

// Expected returns a copy of the acceptable reply kinds.
func (e *Exchange) Expected() []actor.Kind { return slices.Clone(e.expected) }

// Done reports whether the exchange has resolved.
func (e *Exchange) Done() bool { return e.done }

// Begin arms the deadline timer, then sends the request.
func (e *Exchange) Begin(u *actor.Unit, kind actor.Kind, body any) error {
	if e.deadline > 0 {
		u.StartTimer(actor.Timer, e.deadline)
	}
	if err := u.Send(e.peer, kind, body); err != nil {
		u.CancelTimer(actor.Timer)
		e.done = true
		return err
	}
	return nil
}

// terminal lists kinds that mean the peer relationship has ended.
var terminal = []actor.Kind{actor.Abandoned, actor.Closed, actor.AddressLost, actor.NotReady, actor.NotUsable}

// Subject is implemented by notification bodies that name the address
// they report on, such as the loss of a connection held by another unit.
type Subject interface {
	Subject() actor.Address
}

// Concerns reports whether m would resolve the exchange. A terminal kind
// concerns it only when sent through the peer or naming the peer.
func (e *Exchange) Concerns(m actor.Message) bool {
	if e.done {
		return false
	}
	switch {
	case m.Kind == actor.Timer, m.Kind == actor.SelectTimer, m.Kind == actor.Stop:
		return true
	case m.From.Via(e.peer):
		return true
	case slices.Contains(terminal, m.Kind):
		s, ok := m.Body.(Subject)
		return ok && s.Subject().Via(e.peer)
	}
	return false
}

// Lose resolves the exchange as Abandoned when the caller learns of the
// peer's loss by other means.
func (e *Exchange) Lose(u *actor.Unit) Outcome {
	e.done = true
	u.CancelTimer(actor.Timer)
	o := Abandoned{Peer: e.peer}
	u.Logger().Debug("exchange resolved", log.String("peer", string(e.peer)), log.String("outcome", o.String()))
	return o
}

// Classify resolves the exchange if m concerns it. The timer is disarmed
// whenever an outcome is returned.
func (e *Exchange) Classify(u *actor.Unit, m actor.Message) (Outcome, bool) {
	if !e.Concerns(m) {
		return nil, false
	}
	e.done = true
	u.CancelTimer(actor.Timer)

	var o Outcome
	switch {
	case m.Kind == actor.Timer, m.Kind == actor.SelectTimer:
		o = TimedOut{After: e.deadline}
	case m.Kind == actor.Stop:
		o = Aborted{}
	case slices.Contains(terminal, m.Kind):
		o = Abandoned{Peer: e.peer}
	case slices.Contains(e.expected, m.Kind):
		o = Resolved{Reply: m}
	default:
		o = Rejected{Actual: m.Kind, Expected: slices.Clone(e.expected)}
	}

	fields := []log.Field{log.String("peer", string(e.peer)), log.String("outcome", o.String())}
	if _, rejected := o.(Rejected); rejected {
		u.Logger().Warn("exchange rejected", fields...)
	} else {
		u.Logger().Debug("exchange resolved", fields...)
	}
	return o, true
}

// Issue runs a complete exchange on u and blocks until it resolves.
// Messages that do not concern the exchange stay queued for the caller.
func Issue(ctx context.Context, u *actor.Unit, peer actor.Address, kind actor.Kind, body any, deadline time.Duration, expected ...actor.Kind) Outcome {
	e := New(peer, deadline, expected...)
	m, err := u.AskFunc(ctx, peer, kind, body, deadline, e.Concerns)
	if err != nil {
		if ctx.Err() != nil {
			return Aborted{}
		}
		return Failed{Err: err}
	}
	o, _ := e.Classify(u, m)
	return o
}
