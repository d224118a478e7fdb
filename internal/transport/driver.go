package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
)

// Envelope is the wire form of a message. From and To name units on the
// sending and receiving side respectively; an empty To lets the receiving
// link pick the destination.
type Envelope struct {
	Kind string          `json:"kind"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Conn carries envelopes to one peer.
type Conn interface {
	Send(env Envelope) error
	Recv() (Envelope, error)
	Close() error
	RemoteAddr() string
}

// Listener yields inbound connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	// Endpoint is the bound endpoint, with any zero port resolved.
	Endpoint() Endpoint
}

// Driver opens listeners and connections for one endpoint scheme.
type Driver interface {
	Listen(ctx context.Context, ep Endpoint) (Listener, error)
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// streamConn frames envelopes as JSON values on a byte stream.
type streamConn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
	wmu  sync.Mutex
}

func newStreamConn(c net.Conn) *streamConn {
	return &streamConn{conn: c, enc: json.NewEncoder(c), dec: json.NewDecoder(c)}
}

func (s *streamConn) Send(env Envelope) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.enc.Encode(env)
}

func (s *streamConn) Recv() (Envelope, error) {
	var env Envelope
	err := s.dec.Decode(&env)
	return env, err
}

func (s *streamConn) Close() error { return s.conn.Close() }

func (s *streamConn) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// isClosedErr reports errors that mean the stream ended rather than failed.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
