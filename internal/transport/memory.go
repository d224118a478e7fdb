package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/bft-labs/peerlink/internal/domain"
)

// Network is an in-process transport for mem:// endpoints. It lets tests
// count dial attempts and cut live connections without a clean close.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	dials     map[string]int
	pipes     map[string][]net.Conn
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{
		listeners: make(map[string]*memListener),
		dials:     make(map[string]int),
		pipes:     make(map[string][]net.Conn),
	}
}

// Listen registers a listener under the endpoint name.
func (n *Network) Listen(_ context.Context, ep Endpoint) (Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.listeners[ep.Host]; taken {
		return nil, fmt.Errorf("listen %s: address in use", ep)
	}
	l := &memListener{net: n, ep: ep, backlog: make(chan net.Conn, 16), done: make(chan struct{})}
	n.listeners[ep.Host] = l
	return l, nil
}

// Dial connects to the listener registered under the endpoint name.
func (n *Network) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	n.mu.Lock()
	n.dials[ep.Host]++
	l, ok := n.listeners[ep.Host]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: %w", ep, domain.ErrConnectionRefused)
	}

	local, remote := net.Pipe()
	select {
	case l.backlog <- remote:
	case <-l.done:
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("dial %s: %w", ep, domain.ErrConnectionRefused)
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}

	n.mu.Lock()
	n.pipes[ep.Host] = append(n.pipes[ep.Host], local, remote)
	n.mu.Unlock()
	return newStreamConn(local), nil
}

// Dials returns how many connection attempts were made to a name.
func (n *Network) Dials(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[name]
}

// Sever drops every connection made to a name without a close handshake,
// as a network failure would. It returns the number of connections cut.
func (n *Network) Sever(name string) int {
	n.mu.Lock()
	pipes := n.pipes[name]
	delete(n.pipes, name)
	n.mu.Unlock()

	for _, p := range pipes {
		_ = p.Close()
	}
	return len(pipes) / 2
}

type memListener struct {
	net     *Network
	ep      Endpoint
	backlog chan net.Conn
	done    chan struct{}
	once    sync.Once
}

func (l *memListener) Accept() (Conn, error) {
	select {
	case c := <-l.backlog:
		return newStreamConn(c), nil
	case <-l.done:
		return nil, domain.ErrListenerClosed
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.net.mu.Lock()
		if l.net.listeners[l.ep.Host] == l {
			delete(l.net.listeners, l.ep.Host)
		}
		l.net.mu.Unlock()
	})
	return nil
}

func (l *memListener) Endpoint() Endpoint { return l.ep }
