// Package peerlink runs request/reply exchanges between peers over
// reconnecting links.
//
// Example usage:
//
//	rt := peerlink.NewRuntime(actor.WithLogger(logger))
//	defer rt.Close()
//	tr := peerlink.NewTransport(rt, transport.Config{})
//	defer tr.Close()
//
//	body, err := peerlink.Client(peerlink.Config{
//	    Transport: tr,
//	    Endpoint:  transport.MustParseEndpoint("127.0.0.1:5011"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outcome, err := peerlink.Run(ctx, rt, "client", body)
package peerlink

import (
	"context"
	"errors"

	"github.com/bft-labs/peerlink/internal/actor"
	"github.com/bft-labs/peerlink/internal/app"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/exchange"
	"github.com/bft-labs/peerlink/internal/session"
	"github.com/bft-labs/peerlink/internal/transport"
)

// Config configures clients and servers.
type Config = session.Config

// GroupOptions describes the peers of a group client.
type GroupOptions = session.GroupOptions

// Peer is a named group member.
type Peer = session.Peer

// Outcome is the result of one exchange.
type Outcome = exchange.Outcome

// Outcome variants.
type (
	Resolved  = exchange.Resolved
	Rejected  = exchange.Rejected
	TimedOut  = exchange.TimedOut
	Abandoned = exchange.Abandoned
	Aborted   = exchange.Aborted
	Failed    = exchange.Failed
)

// NewRuntime creates a unit runtime.
func NewRuntime(opts ...actor.Option) *actor.Runtime {
	return actor.NewRuntime(opts...)
}

// NewTransport creates a transport bound to rt.
func NewTransport(rt *actor.Runtime, cfg transport.Config) *transport.Transport {
	return transport.New(rt, cfg)
}

// Client returns a body that dials, exchanges one Enquiry and completes
// with the Outcome. A positive Repeat keeps exchanging until stopped.
func Client(cfg Config) (actor.Body, error) { return session.Client(cfg) }

// Server returns a body that listens and answers Enquiry with Ack.
func Server(cfg Config) (actor.Body, error) { return session.Server(cfg) }

// RetryClient returns a client that reconnects with backoff until an
// address is usable.
func RetryClient(cfg Config) (actor.Body, error) { return session.RetryClient(cfg) }

// GroupClient returns a client that waits for every peer in opts to be
// usable, then enquires of each.
func GroupClient(cfg Config, opts GroupOptions) (actor.Body, error) {
	return session.GroupClient(cfg, opts)
}

// IsSuccess reports whether v is a Resolved outcome.
func IsSuccess(v any) bool { return exchange.IsSuccess(v) }

// Run hosts body as a root unit on rt and returns its completion value.
// Cancelling ctx stops the root and waits for it to settle.
func Run(ctx context.Context, rt *actor.Runtime, name string, body actor.Body) (any, error) {
	r := app.NewRunner(rt, nil)
	if err := r.Start(name, body); err != nil {
		return nil, err
	}
	select {
	case <-r.Done():
		return r.Value(), nil
	case <-ctx.Done():
		if err := r.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			return r.Value(), err
		}
		return r.Value(), ctx.Err()
	}
}
