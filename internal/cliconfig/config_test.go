package cliconfig

import (
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Address != DefaultAddress {
		t.Errorf("Address = %v, want %v", cfg.Address, DefaultAddress)
	}
	if cfg.Deadline != 3*time.Second {
		t.Errorf("Deadline = %v, want 3s", cfg.Deadline)
	}
	if cfg.ReadyDeadline != 30*time.Second {
		t.Errorf("ReadyDeadline = %v, want 30s", cfg.ReadyDeadline)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("Policy() = %v", err)
	}
	if p != connector.DefaultPolicy() {
		t.Errorf("Policy() = %+v, want %+v", p, connector.DefaultPolicy())
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty address falls back to default", mutate: func(c *Config) { c.Address = "" }},
		{name: "websocket address", mutate: func(c *Config) { c.Address = "ws://127.0.0.1:5011/peerlink" }},
		{
			name:    "unsupported scheme",
			mutate:  func(c *Config) { c.Address = "udp://127.0.0.1:5011" },
			wantErr: domain.ErrUnsupportedScheme,
		},
		{
			name:    "zero deadline",
			mutate:  func(c *Config) { c.Deadline = 0 },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "negative repeat",
			mutate:  func(c *Config) { c.Repeat = -time.Second },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "bad on-loss",
			mutate:  func(c *Config) { c.OnLoss = "sometimes" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "backoff max below initial",
			mutate:  func(c *Config) { c.BackoffMax = time.Millisecond },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name: "duplicate members",
			mutate: func(c *Config) {
				c.Members = []Member{{"a", "127.0.0.1:1"}, {"a", "127.0.0.1:2"}}
			},
			wantErr: domain.ErrDuplicateMember,
		},
		{
			name:    "unnamed member",
			mutate:  func(c *Config) { c.Members = []Member{{"", "127.0.0.1:1"}} },
			wantErr: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_DefaultsAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if cfg.Address != DefaultAddress {
		t.Errorf("Address = %v, want %v", cfg.Address, DefaultAddress)
	}
}

func TestConfig_SessionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "mem://srv"
	cfg.Repeat = time.Second
	cfg.OnLoss = "halt"

	tr := &transport.Transport{}
	sc, err := cfg.SessionConfig(tr)
	if err != nil {
		t.Fatalf("SessionConfig() = %v", err)
	}
	if sc.Transport != tr {
		t.Error("SessionConfig() did not carry the transport")
	}
	if sc.Endpoint.String() != "mem://srv" {
		t.Errorf("Endpoint = %v, want mem://srv", sc.Endpoint)
	}
	if sc.Repeat != time.Second {
		t.Errorf("Repeat = %v, want 1s", sc.Repeat)
	}
	if sc.Policy.OnLoss != connector.Halt {
		t.Errorf("OnLoss = %v, want halt", sc.Policy.OnLoss)
	}
}

func TestConfig_GroupOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GroupDeadline = 5 * time.Second
	cfg.Strict = true
	cfg.Members = []Member{{"a", "127.0.0.1:1"}, {"b", "ws://127.0.0.1:2/peerlink"}}

	opts, err := cfg.GroupOptions()
	if err != nil {
		t.Fatalf("GroupOptions() = %v", err)
	}
	if len(opts.Peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(opts.Peers))
	}
	if opts.Peers[1].Name != "b" || opts.Peers[1].Endpoint.Scheme != transport.SchemeWebSocket {
		t.Errorf("peer 1 = %+v", opts.Peers[1])
	}
	if opts.Deadline != 5*time.Second || !opts.Strict {
		t.Errorf("options = %+v", opts)
	}
}

func TestParseMembers(t *testing.T) {
	got, err := ParseMembers([]string{"a=127.0.0.1:1", " b = 127.0.0.1:2 ", ""})
	if err != nil {
		t.Fatalf("ParseMembers() = %v", err)
	}
	want := []Member{{"a", "127.0.0.1:1"}, {"b", "127.0.0.1:2"}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("member %d = %v, want %v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"a", "=127.0.0.1:1", "a="} {
		if _, err := ParseMembers([]string{bad}); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("ParseMembers(%q) = %v, want ErrInvalidConfig", bad, err)
		}
	}
}
