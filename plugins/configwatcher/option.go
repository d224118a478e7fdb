package configwatcher

import (
	"time"

	"github.com/bft-labs/peerlink/pkg/log"
)

// Defaults applied by New.
const (
	DefaultRetryInterval = 5 * time.Second
	DefaultDebounceDelay = 100 * time.Millisecond
)

// Option configures a Watcher.
//
// Usage:
//
//	w := configwatcher.New(path,
//	    configwatcher.WithDebounce(250*time.Millisecond),
//	    configwatcher.WithLogger(logger),
//	)
type Option func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a change is
// reported. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDelay = d
		}
	}
}

// WithRetryInterval sets the delay between attempts to watch a missing
// directory. Non-positive values are ignored.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.retryInterval = d
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l log.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}
