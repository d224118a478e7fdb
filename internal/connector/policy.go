package connector

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/bft-labs/peerlink/internal/domain"
)

// Default backoff configuration values.
const (
	DefaultBackoffInitial    = 500 * time.Millisecond
	DefaultBackoffMax        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.2
)

// OnLoss selects what a connector does after a usable connection drops.
type OnLoss int

const (
	// Resume reconnects, starting again from the initial delay.
	Resume OnLoss = iota
	// Halt completes the connector after reporting the loss.
	Halt
)

// String returns the configuration name of the setting.
func (o OnLoss) String() string {
	switch o {
	case Resume:
		return "resume"
	case Halt:
		return "halt"
	default:
		return "unknown"
	}
}

// ParseOnLoss maps "resume" or "halt" to an OnLoss.
func ParseOnLoss(s string) (OnLoss, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "resume":
		return Resume, nil
	case "halt":
		return Halt, nil
	default:
		return Resume, fmt.Errorf("on-loss %q: %w", s, domain.ErrInvalidConfig)
	}
}

// Policy controls how a connector retries.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction by which a delay is randomly spread in
	// either direction, 0.2 meaning ±20%.
	Jitter float64
	// MaxAttempts bounds consecutive failed attempts. Zero retries forever.
	MaxAttempts int
	OnLoss      OnLoss
}

// DefaultPolicy retries forever with exponential backoff from 500ms to 10s.
func DefaultPolicy() Policy {
	return Policy{
		Initial:    DefaultBackoffInitial,
		Max:        DefaultBackoffMax,
		Multiplier: DefaultBackoffMultiplier,
		Jitter:     DefaultBackoffJitter,
		OnLoss:     Resume,
	}
}

// Validate checks the policy for errors.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("backoff initial must be positive: %w", domain.ErrInvalidConfig)
	}
	if p.Max < p.Initial {
		return fmt.Errorf("backoff max %s is below initial %s: %w", p.Max, p.Initial, domain.ErrInvalidConfig)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1: %w", domain.ErrInvalidConfig)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("backoff jitter must be in [0, 1): %w", domain.ErrInvalidConfig)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative: %w", domain.ErrInvalidConfig)
	}
	return nil
}

// Delay returns the wait before retrying after the given number of
// consecutive failures (1-based). A nil rng applies no jitter.
func (p Policy) Delay(failures int, rng *rand.Rand) time.Duration {
	if failures < 1 {
		failures = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(failures-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if p.Jitter > 0 && rng != nil {
		d += d * p.Jitter * (rng.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// Exhausted reports whether a connector should give up after the given
// number of consecutive failures.
func (p Policy) Exhausted(failures int) bool {
	return p.MaxAttempts > 0 && failures >= p.MaxAttempts
}
