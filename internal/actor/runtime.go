package actor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Body is the code a unit runs. Its return value is the unit's completion
// value, delivered to the parent as a Completed message.
type Body func(u *Unit) any

// Runtime routes messages between units and owns their goroutines.
type Runtime struct {
	mu        sync.RWMutex
	receivers map[Address]Receiver
	closed    bool

	clock  clock.Clock
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used for unit timers.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithLogger sets the logger units derive their loggers from.
func WithLogger(l log.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a runtime with a real clock and a no-op logger
// unless overridden.
func NewRuntime(opts ...Option) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		receivers: make(map[Address]Receiver),
		clock:     clock.New(),
		logger:    log.NewNoopLogger(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clock returns the runtime clock.
func (r *Runtime) Clock() clock.Clock { return r.clock }

// Logger returns the runtime logger.
func (r *Runtime) Logger() log.Logger { return r.logger }

// NewAddress allocates an unused address with the given name as prefix.
func (r *Runtime) NewAddress(name string) Address {
	name = strings.ReplaceAll(name, "/", "-")
	r.mu.RLock()
	defer r.mu.RUnlock()
	for {
		id := uuid.NewString()
		a := Address(name + "-" + id[:8])
		if _, taken := r.receivers[a]; !taken {
			return a
		}
	}
}

// Register binds a receiver to an address.
func (r *Runtime) Register(a Address, rcv Receiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.ErrRuntimeClosed
	}
	if _, taken := r.receivers[a]; taken {
		return fmt.Errorf("register %s: address in use", a)
	}
	r.receivers[a] = rcv
	return nil
}

// Unregister removes the receiver bound to an address.
func (r *Runtime) Unregister(a Address) {
	r.mu.Lock()
	delete(r.receivers, a)
	r.mu.Unlock()
}

// Known reports whether an address currently has a receiver.
func (r *Runtime) Known(a Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.receivers[a]
	return ok
}

// Post delivers m to the receiver named by m.To. An address of the form
// "<link>/<remote>" is delivered to the link.
func (r *Runtime) Post(m Message) error {
	r.mu.RLock()
	rcv, ok := r.receivers[m.To]
	if !ok {
		rcv, ok = r.receivers[m.To.Link()]
	}
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("undeliverable message",
			log.String("kind", m.Kind.String()),
			log.String("from", string(m.From)),
			log.String("to", string(m.To)),
		)
		return fmt.Errorf("post %s to %s: %w", m.Kind, m.To, domain.ErrUnknownAddress)
	}
	rcv.Deliver(m)
	return nil
}

// SpawnOption configures a spawned unit.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	onComplete func(Address, any)
}

// OnComplete registers a callback invoked with the unit's completion value.
// It runs on the unit's goroutine after the unit has been unregistered.
func OnComplete(fn func(a Address, value any)) SpawnOption {
	return func(c *spawnConfig) { c.onComplete = fn }
}

// Spawn starts body as a new unit. When parent is not empty the parent
// receives Completed from the new unit's address once body returns.
func (r *Runtime) Spawn(parent Address, name string, body Body, opts ...SpawnOption) (Address, error) {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	u := r.newUnit(parent, name)
	if err := r.Register(u.addr, u.box); err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		value := u.run(body)
		r.Unregister(u.addr)
		u.box.Close()
		u.stopTimers()

		if parent != "" {
			_ = r.Post(Message{Kind: Completed, From: u.addr, To: parent, Body: value})
		}
		if cfg.onComplete != nil {
			cfg.onComplete(u.addr, value)
		}
	}()
	return u.addr, nil
}

// Probe registers a unit that is driven by the calling goroutine instead
// of a body. It is used by hosts and tests to talk to the runtime.
func (r *Runtime) Probe(name string) (*Unit, error) {
	u := r.newUnit("", name)
	if err := r.Register(u.addr, u.box); err != nil {
		return nil, err
	}
	return u, nil
}

// Release unregisters a probe and disarms its timers.
func (r *Runtime) Release(u *Unit) {
	r.Unregister(u.addr)
	u.box.Close()
	u.stopTimers()
}

// Close cancels every unit context and refuses new registrations.
func (r *Runtime) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
}

// Wait blocks until every spawned unit has returned.
func (r *Runtime) Wait() {
	r.wg.Wait()
}

func (r *Runtime) newUnit(parent Address, name string) *Unit {
	addr := r.NewAddress(name)
	return &Unit{
		rt:     r,
		addr:   addr,
		parent: parent,
		box:    NewMailbox(),
		timers: make(map[Kind]*timerSlot),
		logger: log.With(r.logger, log.String("unit", string(addr))),
		ctx:    r.ctx,
	}
}
