package domain

import "errors"

// Domain errors represent error conditions in the peerlink domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("peerlink: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("peerlink: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("peerlink: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("peerlink: invalid configuration")

	// ErrInvalidEndpoint is returned when an endpoint string cannot be parsed.
	ErrInvalidEndpoint = errors.New("peerlink: invalid endpoint")

	// ErrUnsupportedScheme is returned when no driver handles an endpoint scheme.
	ErrUnsupportedScheme = errors.New("peerlink: unsupported scheme")

	// ErrUnknownAddress is returned when a message is posted to an address nobody owns.
	ErrUnknownAddress = errors.New("peerlink: unknown address")

	// ErrRuntimeClosed is returned when a unit is spawned on a closed runtime.
	ErrRuntimeClosed = errors.New("peerlink: runtime closed")

	// ErrListenerClosed is returned by in-memory listeners after Close.
	ErrListenerClosed = errors.New("peerlink: listener closed")

	// ErrConnectionRefused is returned when dialing an in-memory endpoint nobody listens on.
	ErrConnectionRefused = errors.New("peerlink: connection refused")

	// ErrRetriesExhausted is reported when a connector gives up on its target.
	ErrRetriesExhausted = errors.New("peerlink: retries exhausted")

	// ErrStopped is reported when a unit is stopped by its owner.
	ErrStopped = errors.New("peerlink: stopped")

	// ErrLinkLost is reported when a connection drops without a clean close.
	ErrLinkLost = errors.New("peerlink: link lost")

	// ErrEmptyGroup is returned when a group is created without members.
	ErrEmptyGroup = errors.New("peerlink: group has no members")

	// ErrDuplicateMember is returned when two group members share a name.
	ErrDuplicateMember = errors.New("peerlink: duplicate group member")
)
