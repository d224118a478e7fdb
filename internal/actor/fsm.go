package actor

import (
	"github.com/bft-labs/peerlink/pkg/log"
)

// Action handles one message in one state and returns the next state.
// An action that calls Unit.Complete ends the machine.
type Action[S ~int] func(m Message) S

// Table is a state machine laid out as a dense state by kind array.
// Lookup is direct; a state may carry an Otherwise action for kinds it
// does not list.
type Table[S ~int] struct {
	name      string
	states    []string
	cells     [][kindCount]Action[S]
	otherwise []Action[S]
	observe   func(from, to S, k Kind)
}

// NewTable creates a table for a machine whose states are numbered from
// zero in the order of names.
func NewTable[S ~int](name string, states ...string) *Table[S] {
	return &Table[S]{
		name:      name,
		states:    states,
		cells:     make([][kindCount]Action[S], len(states)),
		otherwise: make([]Action[S], len(states)),
	}
}

// On binds an action to a state and message kind.
func (t *Table[S]) On(s S, k Kind, a Action[S]) *Table[S] {
	t.cells[s][k] = a
	return t
}

// OnAny binds the same action to a kind in every listed state.
func (t *Table[S]) OnAny(k Kind, a Action[S], states ...S) *Table[S] {
	for _, s := range states {
		t.cells[s][k] = a
	}
	return t
}

// Otherwise binds the fallback action of a state.
func (t *Table[S]) Otherwise(s S, a Action[S]) *Table[S] {
	t.otherwise[s] = a
	return t
}

// Observe registers a callback invoked after every dispatched message.
func (t *Table[S]) Observe(fn func(from, to S, k Kind)) *Table[S] {
	t.observe = fn
	return t
}

// StateName returns the name a state was declared with.
func (t *Table[S]) StateName(s S) string {
	if int(s) < 0 || int(s) >= len(t.states) {
		return "unknown"
	}
	return t.states[s]
}

// Lookup returns the action bound to a state and kind, falling back to the
// state's Otherwise action.
func (t *Table[S]) Lookup(s S, k Kind) Action[S] {
	if k >= 0 && k < kindCount {
		if a := t.cells[s][k]; a != nil {
			return a
		}
	}
	return t.otherwise[s]
}

// Run drives the machine from initial, beginning with a synthetic Start,
// until an action completes the unit or the unit context ends. It returns
// the completion value, or the context error.
func (t *Table[S]) Run(u *Unit, initial S) any {
	state := initial
	m := Message{Kind: Start, From: u.parent, To: u.addr}
	for {
		a := t.Lookup(state, m.Kind)
		if a == nil {
			u.logger.Debug("dropped message",
				log.String("machine", t.name),
				log.String("state", t.StateName(state)),
				log.String("kind", m.Kind.String()),
				log.String("from", string(m.From)),
			)
		} else {
			next := a(m)
			if next != state {
				u.logger.Debug("transition",
					log.String("machine", t.name),
					log.String("from", t.StateName(state)),
					log.String("to", t.StateName(next)),
					log.String("kind", m.Kind.String()),
				)
			}
			if t.observe != nil {
				t.observe(state, next, m.Kind)
			}
			state = next
		}
		if u.done {
			return u.value
		}

		var err error
		m, err = u.Receive(u.ctx)
		if err != nil {
			return err
		}
	}
}
