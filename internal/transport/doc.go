// Package transport connects units across process boundaries.
//
// Listen and Connect are asynchronous: the owning unit learns the result
// through Listening/NotListening and Connected/NotConnected messages. Each
// connection is represented by a link, a receiver registered at its own
// address. Messages sent to a link, or to "<link>/<remote>", are written
// to the peer; messages read from the peer arrive with From set to
// "<link>/<sender>" so replies travel back the same way.
//
// Routing of inbound messages follows a fixed rule. A message naming a
// local destination goes there. Otherwise it goes to the link's session
// when one was requested with WithSession, and to the owner when not.
// Lifecycle events (Accepted, Closed, Abandoned) only ever go to the owner.
//
// Drivers provide the byte transport per endpoint scheme: tcp, ws and an
// in-process mem network used by tests.
package transport
