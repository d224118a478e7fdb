package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/bft-labs/peerlink/pkg/log"
)

// Unit is the handle a body uses to talk to the runtime. A Unit is not
// safe for concurrent use; only its own goroutine may call its methods.
type Unit struct {
	rt     *Runtime
	addr   Address
	parent Address
	box    *Mailbox
	ctx    context.Context
	logger log.Logger

	deferred []Message
	timers   map[Kind]*timerSlot

	done  bool
	value any
}

type timerSlot struct {
	gen   uint64
	timer *clock.Timer
}

type tick struct {
	gen uint64
}

// Addr returns the unit's address.
func (u *Unit) Addr() Address { return u.addr }

// Parent returns the address of the unit that spawned this one.
func (u *Unit) Parent() Address { return u.parent }

// Context is cancelled when the runtime closes.
func (u *Unit) Context() context.Context { return u.ctx }

// Logger returns a logger scoped to the unit.
func (u *Unit) Logger() log.Logger { return u.logger }

// Runtime returns the runtime hosting the unit.
func (u *Unit) Runtime() *Runtime { return u.rt }

// Clock returns the runtime clock.
func (u *Unit) Clock() clock.Clock { return u.rt.clock }

// Send posts a message from this unit.
func (u *Unit) Send(to Address, kind Kind, body any) error {
	return u.rt.Post(Message{Kind: kind, From: u.addr, To: to, Body: body})
}

// Reply answers the sender of m.
func (u *Unit) Reply(m Message, kind Kind, body any) error {
	return u.Send(m.From, kind, body)
}

// Spawn starts a child unit. The child's completion arrives as Completed.
func (u *Unit) Spawn(name string, body Body, opts ...SpawnOption) (Address, error) {
	return u.rt.Spawn(u.addr, name, body, opts...)
}

// Complete records the unit's completion value. Table.Run returns it once
// the current action finishes.
func (u *Unit) Complete(value any) {
	u.done = true
	u.value = value
}

// Done reports whether Complete has been called.
func (u *Unit) Done() bool { return u.done }

// Receive returns the next message, deferred messages first in arrival order.
func (u *Unit) Receive(ctx context.Context) (Message, error) {
	for len(u.deferred) > 0 {
		m := u.deferred[0]
		u.deferred = u.deferred[1:]
		if !u.stale(m) {
			return m, nil
		}
	}
	for {
		m, err := u.box.Take(ctx)
		if err != nil {
			return Message{}, err
		}
		if u.stale(m) {
			continue
		}
		return m, nil
	}
}

// Select waits for a message of one of the given kinds. Other messages are
// deferred and redelivered by later calls in arrival order. A positive
// timeout arms a SelectTimer; on expiry the SelectTimer message is returned.
func (u *Unit) Select(ctx context.Context, timeout time.Duration, kinds ...Kind) (Message, error) {
	if timeout > 0 {
		u.StartTimer(SelectTimer, timeout)
	}
	return u.selectArmed(ctx, matchKinds(kinds))
}

// SelectFunc is Select with an arbitrary predicate.
func (u *Unit) SelectFunc(ctx context.Context, timeout time.Duration, match func(Message) bool) (Message, error) {
	if timeout > 0 {
		u.StartTimer(SelectTimer, timeout)
	}
	return u.selectArmed(ctx, match)
}

// Ask sends a request and waits for a reply of one of the given kinds.
// The timer is armed before the request leaves so a reply can never
// outrun its deadline.
func (u *Unit) Ask(ctx context.Context, to Address, kind Kind, body any, timeout time.Duration, kinds ...Kind) (Message, error) {
	return u.AskFunc(ctx, to, kind, body, timeout, matchKinds(kinds))
}

// AskFunc is Ask with an arbitrary predicate.
func (u *Unit) AskFunc(ctx context.Context, to Address, kind Kind, body any, timeout time.Duration, match func(Message) bool) (Message, error) {
	if timeout > 0 {
		u.StartTimer(SelectTimer, timeout)
	}
	if err := u.Send(to, kind, body); err != nil {
		u.CancelTimer(SelectTimer)
		return Message{}, err
	}
	return u.selectArmed(ctx, match)
}

func (u *Unit) selectArmed(ctx context.Context, match func(Message) bool) (Message, error) {
	defer u.CancelTimer(SelectTimer)

	for i := 0; i < len(u.deferred); i++ {
		m := u.deferred[i]
		if u.stale(m) {
			u.deferred = append(u.deferred[:i:i], u.deferred[i+1:]...)
			i--
			continue
		}
		if match(m) {
			u.deferred = append(u.deferred[:i:i], u.deferred[i+1:]...)
			return m, nil
		}
	}
	for {
		m, err := u.box.Take(ctx)
		if err != nil {
			return Message{}, err
		}
		if u.stale(m) {
			continue
		}
		if m.Kind == SelectTimer || match(m) {
			return m, nil
		}
		u.deferred = append(u.deferred, m)
	}
}

func matchKinds(kinds []Kind) func(Message) bool {
	return func(m Message) bool {
		for _, k := range kinds {
			if k == Other || k == m.Kind {
				return true
			}
		}
		return false
	}
}

// StartTimer arms a timer that delivers a message of the given kind to the
// unit after d. Re-arming a kind replaces the previous timer of that kind.
func (u *Unit) StartTimer(kind Kind, d time.Duration) {
	slot := u.timers[kind]
	if slot == nil {
		slot = &timerSlot{}
		u.timers[kind] = slot
	}
	if slot.timer != nil {
		slot.timer.Stop()
	}
	slot.gen++
	gen := slot.gen
	box, addr := u.box, u.addr
	slot.timer = u.rt.clock.AfterFunc(d, func() {
		box.Deliver(Message{Kind: kind, From: addr, To: addr, Body: tick{gen: gen}})
	})
}

// CancelTimer disarms the timer of the given kind. A tick already queued
// is discarded on receipt.
func (u *Unit) CancelTimer(kind Kind) {
	slot := u.timers[kind]
	if slot == nil {
		return
	}
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.gen++
}

// TimerArmed reports whether a timer of the given kind is pending.
func (u *Unit) TimerArmed(kind Kind) bool {
	slot := u.timers[kind]
	return slot != nil && slot.timer != nil
}

// stale reports whether m is a tick from a cancelled or replaced timer.
// A live tick clears its slot.
func (u *Unit) stale(m Message) bool {
	t, ok := m.Body.(tick)
	if !ok || m.From != u.addr {
		return false
	}
	slot := u.timers[m.Kind]
	if slot == nil || slot.gen != t.gen {
		return true
	}
	slot.timer = nil
	return false
}

func (u *Unit) stopTimers() {
	for k := range u.timers {
		u.CancelTimer(k)
	}
}

func (u *Unit) run(body Body) (value any) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("unit panicked", log.Any("panic", r))
			value = fmt.Errorf("unit %s panicked: %v", u.addr, r)
		}
	}()
	return body(u)
}
