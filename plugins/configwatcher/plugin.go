// Package configwatcher watches a peerlink config file and signals when it
// changes, so a running group can be rebuilt from the new membership.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/peerlink/pkg/log"
)

// Watcher monitors the directory holding a config file and reports writes to
// that file on Changes. Bursts of events within the debounce delay collapse
// into a single notification.
type Watcher struct {
	mu sync.Mutex

	// Configuration
	path          string
	retryInterval time.Duration
	debounceDelay time.Duration
	logger        log.Logger

	// Runtime state
	changes  chan struct{}
	debounce *time.Timer
}

// New creates a watcher for the config file at path.
func New(path string, opts ...Option) *Watcher {
	w := &Watcher{
		path:          filepath.Clean(path),
		retryInterval: DefaultRetryInterval,
		debounceDelay: DefaultDebounceDelay,
		logger:        log.NewNoopLogger(),
		changes:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the watcher identifier.
func (w *Watcher) Name() string {
	return "configwatcher"
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Changes delivers one value per settled burst of writes. A pending value is
// not duplicated if the consumer falls behind.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches until ctx is cancelled. If the directory cannot be watched yet
// it is retried every retry interval.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	defer w.stopDebounce()

	dir := filepath.Dir(w.path)
	for {
		err := watcher.Add(dir)
		if err == nil {
			break
		}
		w.logger.Error("config watcher: failed to watch directory", log.String("dir", dir), log.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.retryInterval):
		}
	}
	w.logger.Info("config watcher started", log.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceNotify()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher: watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, w.notify)
}

func (w *Watcher) notify() {
	w.logger.Info("config file changed", log.String("path", w.path))
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}
