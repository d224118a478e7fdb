package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/pkg/log"
)

// closeKind is the envelope kind a link sends before closing cleanly.
var closeKind = actor.Close.String()

// link is the local end of one connection. It is registered as a
// receiver at its own address.
type link struct {
	t       *Transport
	addr    actor.Address
	owner   actor.Address
	conn    Conn
	box     *actor.Mailbox
	factory SessionFactory
	logger  log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	session     actor.Address
	sessionLive bool
	value       any
	closing     bool
	peerClosed  bool
	finished    bool
	clean       bool
	lossErr     error
	reportOnce  sync.Once
}

func (t *Transport) openLink(owner actor.Address, conn Conn, o options) (*link, error) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		t:       t,
		addr:    t.rt.NewAddress(o.name),
		owner:   owner,
		conn:    conn,
		box:     actor.NewMailbox(),
		factory: o.session,
		ctx:     ctx,
		cancel:  cancel,
	}
	l.logger = log.With(t.logger, log.String("link", string(l.addr)))
	if err := t.rt.Register(l.addr, l); err != nil {
		cancel()
		return nil, err
	}
	t.mu.Lock()
	t.links[l.addr] = l
	t.mu.Unlock()
	t.metrics.LinkOpened()
	return l, nil
}

// discard releases a link whose owner has gone before it was started.
func (l *link) discard() {
	l.cancel()
	_ = l.conn.Close()
	l.t.rt.Unregister(l.addr)
	l.t.mu.Lock()
	delete(l.t.links, l.addr)
	l.t.mu.Unlock()
	l.t.metrics.LinkClosed()
}

// Deliver queues a message for the peer. Close closes the link cleanly
// once earlier messages have been written.
func (l *link) Deliver(m actor.Message) {
	l.box.Deliver(m)
}

func (l *link) start() {
	if l.factory != nil {
		addr, err := l.t.rt.Spawn("", "session", l.factory(l.addr), actor.OnComplete(l.sessionDone))
		if err != nil {
			l.logger.Error("session not started", log.Err(err))
		} else {
			l.mu.Lock()
			l.session = addr
			l.sessionLive = true
			l.mu.Unlock()
		}
	}

	l.t.wg.Add(2)
	go func() {
		defer l.t.wg.Done()
		l.writeLoop()
	}()
	go func() {
		defer l.t.wg.Done()
		l.readLoop()
	}()
}

func (l *link) writeLoop() {
	for {
		m, err := l.box.Take(l.ctx)
		if err != nil {
			return
		}
		if m.Kind == actor.Close {
			l.mu.Lock()
			l.closing = true
			l.mu.Unlock()
			_ = l.conn.Send(Envelope{Kind: closeKind})
			_ = l.conn.Close()
			return
		}

		env, err := encode(m)
		if err != nil {
			l.logger.Warn("message not encodable", log.String("kind", m.Kind.String()), log.Err(err))
			continue
		}
		if err := l.conn.Send(env); err != nil {
			l.logger.Debug("send failed", log.Err(err))
			_ = l.conn.Close()
			return
		}
	}
}

func encode(m actor.Message) (Envelope, error) {
	env := Envelope{
		Kind: m.Kind.String(),
		From: string(m.From),
		To:   string(m.To.Remote()),
	}
	if m.Body != nil {
		b, err := json.Marshal(m.Body)
		if err != nil {
			return Envelope{}, err
		}
		env.Body = b
	}
	return env, nil
}

func (l *link) readLoop() {
	for {
		env, err := l.conn.Recv()
		if err != nil {
			l.finish(err)
			return
		}
		if env.Kind == closeKind {
			l.mu.Lock()
			l.peerClosed = true
			l.mu.Unlock()
			_ = l.conn.Close()
			l.finish(nil)
			return
		}
		l.route(env)
	}
}

// route delivers an inbound envelope. Kinds below Enquiry belong to the
// runtime and transport and are never accepted from a peer.
func (l *link) route(env Envelope) {
	kind := actor.ParseKind(env.Kind)
	if kind != actor.KindUnknown && (kind < actor.Enquiry || kind == actor.Other) {
		l.logger.Debug("dropped control message from peer", log.String("kind", env.Kind))
		return
	}

	from := l.addr
	if env.From != "" {
		from = l.addr + "/" + actor.Address(env.From)
	}
	var body any
	if len(env.Body) > 0 {
		body = env.Body
	}

	to := l.owner
	l.mu.Lock()
	if l.sessionLive {
		to = l.session
	}
	l.mu.Unlock()
	if named := actor.Address(env.To); named != "" && l.t.rt.Known(named) {
		to = named
	}

	_ = l.t.rt.Post(actor.Message{Kind: kind, From: from, To: to, Body: body})
}

// finish runs once the connection has ended. A live session hears Closed
// or Abandoned from the link first and the owner is told when it completes.
func (l *link) finish(err error) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	l.clean = l.closing || l.peerClosed
	l.lossErr = err
	live, session, clean := l.sessionLive, l.session, l.clean
	l.mu.Unlock()

	l.cancel()
	_ = l.conn.Close()
	l.t.rt.Unregister(l.addr)
	l.t.mu.Lock()
	delete(l.t.links, l.addr)
	l.t.mu.Unlock()
	l.t.metrics.LinkClosed()

	if live {
		m := actor.Message{Kind: actor.Abandoned, From: l.addr, To: session, Body: Abandoned{Link: l.addr, Err: l.lossError(err)}}
		if clean {
			m.Kind, m.Body = actor.Closed, Closed{Link: l.addr}
		}
		_ = l.t.rt.Post(m)
		return
	}
	l.report()
}

func (l *link) sessionDone(_ actor.Address, value any) {
	l.mu.Lock()
	l.sessionLive = false
	l.value = value
	finished := l.finished
	if !finished {
		l.closing = true
	}
	l.mu.Unlock()

	if !finished {
		l.box.Deliver(actor.Message{Kind: actor.Close, To: l.addr})
		return
	}
	l.report()
}

func (l *link) report() {
	l.reportOnce.Do(func() {
		l.mu.Lock()
		clean, value, lossErr := l.clean, l.value, l.lossErr
		l.mu.Unlock()

		if clean {
			l.logger.Info("link closed")
			_ = l.t.notify(l.owner, l.addr, actor.Closed, Closed{Link: l.addr, Value: value})
			return
		}
		err := l.lossError(lossErr)
		l.logger.Info("link abandoned", log.Err(err))
		_ = l.t.notify(l.owner, l.addr, actor.Abandoned, Abandoned{Link: l.addr, Err: err})
	})
}

func (l *link) lossError(cause error) error {
	if cause != nil && !isClosedErr(cause) {
		return fmt.Errorf("%s: %v: %w", l.addr, cause, domain.ErrLinkLost)
	}
	return fmt.Errorf("%s: %w", l.addr, domain.ErrLinkLost)
}
