package main

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/peerlink/internal/cliconfig"
)

func TestPolicyFlags_JitterSpreadsBothWays(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	fs := pflag.NewFlagSet("connect", pflag.ContinueOnError)
	addPolicyFlags(fs, &cfg)

	usage := fs.Lookup("backoff-jitter").Usage
	if !strings.Contains(usage, "raised or lowered") {
		t.Fatalf("backoff-jitter usage %q does not describe a two-sided spread", usage)
	}

	if err := fs.Parse([]string{"--backoff-jitter", "0.5", "--backoff-initial", "1s", "--backoff-max", "1s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	var above, below bool
	for i := 0; i < 200; i++ {
		d := p.Delay(1, rng)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("delay %s outside ±50%% of 1s", d)
		}
		above = above || d > time.Second
		below = below || d < time.Second
	}
	if !above || !below {
		t.Fatalf("jitter spread one way only: above=%v below=%v", above, below)
	}
}
