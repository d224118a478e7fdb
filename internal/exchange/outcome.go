package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/bft-labs/peerlink/internal/actor"
)

// Outcome is the single result of an exchange.
type Outcome interface {
	// Label is a short stable name used in logs and metrics.
	Label() string
	fmt.Stringer
}

// Resolved carries a reply whose kind was expected.
type Resolved struct {
	Reply actor.Message
}

// Rejected carries the kind of an unexpected reply and the full set of
// kinds that would have been accepted.
type Rejected struct {
	Actual   actor.Kind
	Expected []actor.Kind
}

// TimedOut reports that no reply arrived before the deadline.
type TimedOut struct {
	After time.Duration
}

// Abandoned reports that the peer relationship ended mid-flight.
type Abandoned struct {
	Peer actor.Address
}

// Aborted reports an operator stop.
type Aborted struct{}

// Failed reports a configuration or transport error surfaced verbatim.
type Failed struct {
	Err error
}

func (Resolved) Label() string  { return "resolved" }
func (Rejected) Label() string  { return "rejected" }
func (TimedOut) Label() string  { return "timed_out" }
func (Abandoned) Label() string { return "abandoned" }
func (Aborted) Label() string   { return "aborted" }
func (Failed) Label() string    { return "failed" }

func (o Resolved) String() string { return "resolved with " + o.Reply.Kind.String() }

func (o Rejected) String() string {
	return fmt.Sprintf("rejected %s, expected one of [%s]", o.Actual, strings.Join(actor.Kinds(o.Expected), " "))
}

func (o TimedOut) String() string  { return fmt.Sprintf("timed out after %s", o.After) }
func (o Abandoned) String() string { return fmt.Sprintf("abandoned by %s", o.Peer) }
func (Aborted) String() string     { return "aborted" }
func (o Failed) String() string    { return "failed: " + o.Err.Error() }

// Error makes Failed usable as an error.
func (o Failed) Error() string { return o.String() }

// Unwrap exposes the underlying error to errors.Is.
func (o Failed) Unwrap() error { return o.Err }

// IsSuccess reports whether an outcome is Resolved.
func IsSuccess(o any) bool {
	_, ok := o.(Resolved)
	return ok
}
