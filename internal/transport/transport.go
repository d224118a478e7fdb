package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/metrics"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Listening is sent to the owner once a listener is bound.
type Listening struct {
	Endpoint Endpoint
	Listener actor.Address
}

// NotListening is sent to the owner when a listener cannot be bound.
type NotListening struct {
	Endpoint Endpoint
	Err      error
}

// Connected is sent to the owner when an outbound connection is up.
type Connected struct {
	Endpoint Endpoint
	Link     actor.Address
}

// NotConnected is sent to the owner when an outbound attempt fails.
type NotConnected struct {
	Endpoint Endpoint
	Err      error
}

// Accepted is sent to a listener's owner for each inbound connection.
type Accepted struct {
	Listener actor.Address
	Link     actor.Address
	Remote   string
}

// NotAccepted is sent to a listener's owner when accepting fails.
type NotAccepted struct {
	Listener actor.Address
	Err      error
}

// Closed reports a cleanly closed link. Value is the completion value of
// the link's session, if it had one.
type Closed struct {
	Link  actor.Address
	Value any
}

// Abandoned reports a link lost without a clean close.
type Abandoned struct {
	Link actor.Address
	Err  error
}

// SessionFactory builds the body of a session unit for a new link. The
// peer is the link address to send to.
type SessionFactory func(peer actor.Address) actor.Body

// Option configures a Listen or Connect call.
type Option func(*options)

type options struct {
	session SessionFactory
	name    string
}

// WithSession spawns a session unit for every connection. Application
// messages from the peer go to the session instead of the owner.
func WithSession(f SessionFactory) Option {
	return func(o *options) { o.session = f }
}

// WithName sets the address prefix used for links.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Transport owns listeners and links on behalf of units.
type Transport struct {
	rt      *actor.Runtime
	drivers map[string]Driver
	logger  log.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	listeners map[actor.Address]*listener
	links     map[actor.Address]*link
	wg        sync.WaitGroup
}

// Config holds optional Transport collaborators.
type Config struct {
	Logger  log.Logger
	Metrics *metrics.Metrics
	// Network serves mem:// endpoints. Nil disables the scheme.
	Network *Network
}

// New creates a transport with tcp and ws drivers, plus mem when a
// Network is configured.
func New(rt *actor.Runtime, cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = rt.Logger()
	}
	t := &Transport{
		rt: rt,
		drivers: map[string]Driver{
			SchemeTCP:       TCPDriver{},
			SchemeWebSocket: WebSocketDriver{},
		},
		logger:    logger,
		metrics:   cfg.Metrics,
		listeners: make(map[actor.Address]*listener),
		links:     make(map[actor.Address]*link),
	}
	if cfg.Network != nil {
		t.drivers[SchemeMemory] = cfg.Network
	}
	return t
}

// Register installs or replaces the driver for a scheme.
func (t *Transport) Register(scheme string, d Driver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drivers[scheme] = d
}

func (t *Transport) driver(scheme string) (Driver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.drivers[scheme]
	if !ok {
		return nil, fmt.Errorf("%q: %w", scheme, domain.ErrUnsupportedScheme)
	}
	return d, nil
}

// Listen binds ep on behalf of owner. The owner receives Listening or
// NotListening, then Accepted for each inbound connection. Sending Close
// to the listener address unbinds it.
func (t *Transport) Listen(owner actor.Address, ep Endpoint, opts ...Option) {
	o := options{name: "link"}
	for _, opt := range opts {
		opt(&o)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		d, err := t.driver(ep.Scheme)
		if err != nil {
			_ = t.notify(owner, "", actor.NotListening, NotListening{Endpoint: ep, Err: err})
			return
		}
		ln, err := d.Listen(context.Background(), ep)
		if err != nil {
			_ = t.notify(owner, "", actor.NotListening, NotListening{Endpoint: ep, Err: err})
			return
		}

		l := &listener{t: t, owner: owner, ln: ln, opts: o, addr: t.rt.NewAddress("listener")}
		if err := t.rt.Register(l.addr, l); err != nil {
			_ = ln.Close()
			_ = t.notify(owner, "", actor.NotListening, NotListening{Endpoint: ep, Err: err})
			return
		}
		t.mu.Lock()
		t.listeners[l.addr] = l
		t.mu.Unlock()

		t.logger.Info("listening", log.String("endpoint", ln.Endpoint().String()), log.String("listener", string(l.addr)))
		if err := t.notify(owner, l.addr, actor.Listening, Listening{Endpoint: ln.Endpoint(), Listener: l.addr}); err != nil {
			_ = l.close()
			return
		}
		l.acceptLoop()
	}()
}

// Attempt is an in-flight Connect.
type Attempt struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	link      actor.Address
}

// Cancel abandons the attempt. A connection that completes after Cancel is
// closed without notifying the owner. If Connected was already posted,
// Cancel returns that link and the caller must close it.
func (a *Attempt) Cancel() actor.Address {
	if a == nil {
		return ""
	}
	a.mu.Lock()
	a.cancelled = true
	link := a.link
	a.mu.Unlock()
	a.cancel()
	return link
}

// Connect dials ep on behalf of owner, which receives Connected or
// NotConnected.
func (t *Transport) Connect(owner actor.Address, ep Endpoint, opts ...Option) *Attempt {
	o := options{name: "link"}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Attempt{cancel: cancel}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		d, err := t.driver(ep.Scheme)
		if err != nil {
			_ = t.notify(owner, "", actor.NotConnected, NotConnected{Endpoint: ep, Err: err})
			return
		}
		conn, err := d.Dial(ctx, ep)

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.cancelled {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			t.metrics.ConnectAttempt(ep.String(), false)
			_ = t.notify(owner, "", actor.NotConnected, NotConnected{Endpoint: ep, Err: err})
			return
		}
		t.metrics.ConnectAttempt(ep.String(), true)

		l, err := t.openLink(owner, conn, o)
		if err != nil {
			_ = conn.Close()
			_ = t.notify(owner, "", actor.NotConnected, NotConnected{Endpoint: ep, Err: err})
			return
		}
		if err := t.notify(owner, l.addr, actor.Connected, Connected{Endpoint: ep, Link: l.addr}); err != nil {
			l.discard()
			return
		}
		a.link = l.addr
		l.start()
	}()
	return a
}

// Close unbinds every listener and closes every link, then waits for
// their goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	listeners := make([]*listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.close())
	}
	for _, l := range links {
		l.Deliver(actor.Message{Kind: actor.Close, To: l.addr})
	}
	t.wg.Wait()
	return err
}

// Links returns the number of open links.
func (t *Transport) Links() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

func (t *Transport) notify(owner, from actor.Address, kind actor.Kind, body any) error {
	return t.rt.Post(actor.Message{Kind: kind, From: from, To: owner, Body: body})
}

type listener struct {
	t     *Transport
	owner actor.Address
	addr  actor.Address
	ln    Listener
	opts  options

	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// Deliver handles messages sent to the listener address. Only Close is
// meaningful.
func (l *listener) Deliver(m actor.Message) {
	if m.Kind == actor.Close {
		go func() { _ = l.close() }()
	}
}

func (l *listener) close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		err = l.ln.Close()
		l.t.rt.Unregister(l.addr)
		l.t.mu.Lock()
		delete(l.t.listeners, l.addr)
		l.t.mu.Unlock()
	})
	return err
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if !closed {
				_ = l.t.notify(l.owner, l.addr, actor.NotAccepted, NotAccepted{Listener: l.addr, Err: err})
				_ = l.close()
			}
			return
		}
		lk, err := l.t.openLink(l.owner, conn, l.opts)
		if err != nil {
			_ = conn.Close()
			continue
		}
		if err := l.t.notify(l.owner, lk.addr, actor.Accepted, Accepted{Listener: l.addr, Link: lk.addr, Remote: conn.RemoteAddr()}); err != nil {
			lk.discard()
			continue
		}
		lk.start()
	}
}
