package actor

import "strings"

// Address names a unit, a transport link, or a remote unit reached
// through a link. Remote addresses have the form "<link>/<remote>".
type Address string

// Link returns the local part of a routed address. For a plain address it
// returns the address itself.
func (a Address) Link() Address {
	if i := strings.IndexByte(string(a), '/'); i >= 0 {
		return a[:i]
	}
	return a
}

// Remote returns the part after the link prefix, or "" for a plain address.
func (a Address) Remote() Address {
	if i := strings.IndexByte(string(a), '/'); i >= 0 {
		return a[i+1:]
	}
	return ""
}

// Via reports whether a is peer or a remote address reached through peer.
func (a Address) Via(peer Address) bool {
	return peer != "" && a.Link() == peer.Link()
}

// Message is the unit of communication between units.
type Message struct {
	Kind Kind
	From Address
	To   Address
	Body any
}

// Receiver accepts messages posted to an address. Deliver must not block.
type Receiver interface {
	Deliver(m Message)
}
