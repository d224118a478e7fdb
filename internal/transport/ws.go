package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/peerlink/internal/domain"
)

// WebSocketDriver carries envelopes as JSON text frames over WebSocket.
type WebSocketDriver struct {
	HandshakeTimeout time.Duration
}

// Listen serves WebSocket upgrades on the endpoint path.
func (d WebSocketDriver) Listen(ctx context.Context, ep Endpoint) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, err
	}
	bound := ep
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		bound.Port = a.Port
	}

	l := &wsListener{
		ep:      bound,
		backlog: make(chan Conn),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: d.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(bound.Path, l.serve)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = l.srv.Serve(ln) }()
	return l, nil
}

// Dial performs a WebSocket handshake with the endpoint.
func (d WebSocketDriver) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	c, _, err := dialer.DialContext(ctx, ep.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsListener struct {
	ep       Endpoint
	srv      *http.Server
	upgrader websocket.Upgrader
	backlog  chan Conn
	done     chan struct{}
	once     sync.Once
}

func (l *wsListener) serve(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.backlog <- &wsConn{conn: c}:
	case <-l.done:
		_ = c.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case c := <-l.backlog:
		return c, nil
	case <-l.done:
		return nil, domain.ErrListenerClosed
	}
}

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *wsListener) Endpoint() Endpoint { return l.ep }

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *wsConn) Send(env Envelope) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Recv() (Envelope, error) {
	var env Envelope
	err := c.conn.ReadJSON(&env)
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return env, net.ErrClosed
	}
	return env, err
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
