package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/pkg/log"
)

// Runner hosts one root unit on a runtime. The root's completion value is
// kept for the caller, and Stop asks the root to finish and waits for it.
type Runner struct {
	rt     *actor.Runtime
	lc     *Lifecycle
	logger log.Logger
	notify func(actor.Message)

	mu    sync.Mutex
	probe *actor.Unit
	root  actor.Address
	value any
	done  chan struct{}
}

// NewRunner creates a runner. The emitter may be nil.
func NewRunner(rt *actor.Runtime, emitter EventEmitter) *Runner {
	return &Runner{
		rt:     rt,
		lc:     NewLifecycle(rt.Logger(), emitter),
		logger: rt.Logger(),
	}
}

// OnMessage registers fn for messages the root sends its parent before it
// completes, such as interim outcomes. Call it before Start.
func (r *Runner) OnMessage(fn func(actor.Message)) {
	r.notify = fn
}

// State returns the lifecycle state.
func (r *Runner) State() State {
	return r.lc.State()
}

// Start spawns body as the root unit.
func (r *Runner) Start(name string, body actor.Body) error {
	if !r.lc.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := r.lc.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	probe, err := r.rt.Probe("host")
	if err != nil {
		_ = r.lc.TransitionTo(StateCrashed, err.Error())
		return fmt.Errorf("start %s: %w", name, err)
	}
	root, err := probe.Spawn(name, body)
	if err != nil {
		r.rt.Release(probe)
		_ = r.lc.TransitionTo(StateCrashed, err.Error())
		return fmt.Errorf("start %s: %w", name, err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.probe, r.root, r.value, r.done = probe, root, nil, done
	r.mu.Unlock()

	// The root's Completed waits in the probe until await collects it.
	err = r.lc.TransitionTo(StateRunning, "root spawned")
	r.lc.AddWorker()
	go r.await(probe, root, done)
	return err
}

func (r *Runner) await(probe *actor.Unit, root actor.Address, done chan struct{}) {
	defer r.lc.WorkerDone()
	defer close(done)
	defer r.rt.Release(probe)

	var m actor.Message
	for {
		var err error
		m, err = probe.Receive(probe.Context())
		if err != nil {
			r.logger.Error("root lost", log.String("root", string(root)), log.Err(err))
			_ = r.lc.TransitionTo(StateCrashed, err.Error())
			return
		}
		if m.Kind == actor.Completed && m.From == root {
			break
		}
		if r.notify != nil {
			r.notify(m)
		} else {
			r.logger.Debug("dropped root message", log.Stringer("kind", m.Kind))
		}
	}

	r.mu.Lock()
	r.value = m.Body
	r.mu.Unlock()

	if r.lc.State() == StateRunning {
		_ = r.lc.TransitionTo(StateStopping, "root completed")
	}
	_ = r.lc.TransitionTo(StateStopped, fmt.Sprint(m.Body))
}

// Stop sends Stop to the root and waits up to ShutdownTimeout for it to
// complete.
func (r *Runner) Stop() error {
	if !r.lc.CanStop() {
		return domain.ErrNotRunning
	}
	_ = r.lc.TransitionTo(StateStopping, "stop requested")

	r.mu.Lock()
	probe, root := r.probe, r.root
	r.mu.Unlock()
	if err := probe.Send(root, actor.Stop, nil); err != nil {
		r.logger.Debug("root already gone", log.Err(err))
	}
	return r.lc.WaitWithTimeout(ShutdownTimeout)
}

// Done is closed once the root has completed.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Value returns the root's completion value, or nil while it runs.
func (r *Runner) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Wait blocks until the root completes or ctx ends.
func (r *Runner) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.Done():
		return r.Value(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
