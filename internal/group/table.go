package group

import (
	"maps"
	"slices"

	"github.com/bft-labs/peerlink/internal/actor"
)

// Addresses maps member names to usable addresses. It is the body of
// Ready and the argument of a group session.
type Addresses map[string]actor.Address

// Update is the body of GroupUpdate. An empty Address means the member
// is no longer usable.
type Update struct {
	Name    string
	Address actor.Address
}

// Table accumulates GroupUpdate messages on the owner's side so the owner
// can look members up by name.
type Table struct {
	names []string
	addrs Addresses
}

// NewTable creates a table for the named members.
func NewTable(names ...string) *Table {
	return &Table{names: slices.Clone(names), addrs: make(Addresses, len(names))}
}

// Update applies a GroupUpdate message. It reports whether m was one.
func (t *Table) Update(m actor.Message) bool {
	u, ok := m.Body.(Update)
	if m.Kind != actor.GroupUpdate || !ok {
		return false
	}
	if u.Address == "" {
		delete(t.addrs, u.Name)
	} else {
		t.addrs[u.Name] = u.Address
	}
	return true
}

// Address returns the usable address of a member, or "".
func (t *Table) Address(name string) actor.Address {
	return t.addrs[name]
}

// Ready reports whether every member has an address.
func (t *Table) Ready() bool {
	for _, n := range t.names {
		if t.addrs[n] == "" {
			return false
		}
	}
	return true
}

// Missing returns the members without an address, in declaration order.
func (t *Table) Missing() []string {
	var out []string
	for _, n := range t.names {
		if t.addrs[n] == "" {
			out = append(out, n)
		}
	}
	return out
}

// Addresses returns a copy of the current addresses.
func (t *Table) Addresses() Addresses {
	return maps.Clone(t.addrs)
}
