// Package session runs peer relationships on top of the transport.
//
// A controller owns the lifecycle of one relationship: it connects or
// listens, then runs exchanges against the peer until the exchange
// resolves, the link ends or it is stopped. Split variants hand exchange
// logic to a per-link session unit so the controller only ever sees
// lifecycle events.
package session

import (
	"fmt"
	"time"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/metrics"
	"github.com/bft-labs/peerlink/internal/transport"
)

const (
	// DefaultDeadline bounds a single Enquiry.
	DefaultDeadline = 3 * time.Second
	// DefaultReadyDeadline bounds how long a group client waits for its
	// group to become ready.
	DefaultReadyDeadline = 30 * time.Second
)

// Replies are the kinds an Enquiry accepts.
var Replies = []actor.Kind{actor.Ack, actor.Nak}

// Config configures every controller in this package. Fields a variant
// does not use are ignored.
type Config struct {
	Transport *transport.Transport
	Endpoint  transport.Endpoint
	// Deadline bounds each exchange. Zero selects DefaultDeadline.
	Deadline time.Duration
	// Repeat, when positive, keeps a Client running and issues a new
	// Enquiry this long after each outcome.
	Repeat  time.Duration
	Metrics *metrics.Metrics
	// Policy drives the connectors of RetryClient and GroupClient. The
	// zero Policy selects connector.DefaultPolicy.
	Policy connector.Policy
	// ReadyDeadline bounds a GroupClient's wait for Ready. Zero selects
	// DefaultReadyDeadline.
	ReadyDeadline time.Duration
}

func (c Config) validate() (Config, error) {
	if c.Transport == nil {
		return c, fmt.Errorf("session needs a transport: %w", domain.ErrInvalidConfig)
	}
	if c.Deadline < 0 || c.Repeat < 0 || c.ReadyDeadline < 0 {
		return c, fmt.Errorf("session durations must not be negative: %w", domain.ErrInvalidConfig)
	}
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
	if c.ReadyDeadline == 0 {
		c.ReadyDeadline = DefaultReadyDeadline
	}
	if c.Policy == (connector.Policy{}) {
		c.Policy = connector.DefaultPolicy()
	}
	return c, nil
}

func (c Config) target() error {
	if c.Endpoint.Scheme == "" {
		return fmt.Errorf("session needs an endpoint: %w", domain.ErrInvalidEndpoint)
	}
	return nil
}

type state int

const (
	stateInitial state = iota
	stateStarting
	stateRunning
	stateWaiting
)

var stateNames = []string{"initial", "starting", "running", "waiting"}

// record counts an outcome and passes it through.
func record(m *metrics.Metrics, o exchange.Outcome) exchange.Outcome {
	m.ExchangeOutcome(o.Label())
	return o
}
