package transport

import (
	"context"
	"net"
	"time"
)

// TCPDriver carries envelopes as newline-delimited JSON over TCP.
type TCPDriver struct {
	// DialTimeout bounds a single connect attempt. Zero means no bound
	// beyond the context.
	DialTimeout time.Duration
}

// Listen binds a TCP listener.
func (d TCPDriver) Listen(ctx context.Context, ep Endpoint) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, err
	}
	bound := ep
	if a, ok := ln.Addr().(*net.TCPAddr); ok {
		bound.Port = a.Port
	}
	return &tcpListener{ln: ln, ep: bound}, nil
}

// Dial connects to a TCP endpoint.
func (d TCPDriver) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	dialer := net.Dialer{Timeout: d.DialTimeout}
	c, err := dialer.DialContext(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, err
	}
	return newStreamConn(c), nil
}

type tcpListener struct {
	ln net.Listener
	ep Endpoint
}

func (l *tcpListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newStreamConn(c), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Endpoint() Endpoint { return l.ep }
