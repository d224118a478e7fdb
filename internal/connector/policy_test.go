package connector

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/peerlink/internal/domain"
)

func TestPolicy_DelayGrowsToMax(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, p.Delay(i+1, nil), "failure %d", i+1)
	}
	require.Equal(t, 500*time.Millisecond, p.Delay(0, nil))
}

func TestPolicy_DelayJitterBounds(t *testing.T) {
	p := DefaultPolicy()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		d := p.Delay(3, rng)
		require.GreaterOrEqual(t, d, 1600*time.Millisecond)
		require.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestPolicy_Exhausted(t *testing.T) {
	p := DefaultPolicy()
	require.False(t, p.Exhausted(1000), "unbounded by default")

	p.MaxAttempts = 3
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		ok     bool
	}{
		{"default", func(*Policy) {}, true},
		{"zero initial", func(p *Policy) { p.Initial = 0 }, false},
		{"max below initial", func(p *Policy) { p.Max = time.Millisecond }, false},
		{"shrinking multiplier", func(p *Policy) { p.Multiplier = 0.5 }, false},
		{"jitter of one", func(p *Policy) { p.Jitter = 1 }, false},
		{"negative attempts", func(p *Policy) { p.MaxAttempts = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, domain.ErrInvalidConfig))
		})
	}
}

func TestParseOnLoss(t *testing.T) {
	for in, want := range map[string]OnLoss{"": Resume, "resume": Resume, "HALT": Halt} {
		got, err := ParseOnLoss(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
		if in != "" {
			require.Equal(t, want.String(), got.String())
		}
	}
	_, err := ParseOnLoss("sometimes")
	require.Error(t, err)
}
