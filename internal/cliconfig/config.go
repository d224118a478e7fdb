package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/peerlink/internal/connector"
	"github.com/bft-labs/peerlink/internal/domain"
	"github.com/bft-labs/peerlink/internal/session"
	"github.com/bft-labs/peerlink/internal/transport"
)

// DefaultAddress is where serve listens and connect dials by default.
const DefaultAddress = "127.0.0.1:5011"

// Member is a named group peer.
type Member struct {
	Name    string
	Address string
}

// Config holds CLI configuration for peerlink.
type Config struct {
	Address string
	Variant string

	Deadline      time.Duration
	Repeat        time.Duration
	ReadyDeadline time.Duration
	GroupDeadline time.Duration
	Strict        bool
	Session       bool
	Watch         bool

	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     float64
	MaxAttempts       int
	OnLoss            string

	Members []Member

	LogLevel    string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Address:           DefaultAddress,
		Variant:           "fsm",
		Deadline:          session.DefaultDeadline,
		ReadyDeadline:     session.DefaultReadyDeadline,
		BackoffInitial:    connector.DefaultBackoffInitial,
		BackoffMax:        connector.DefaultBackoffMax,
		BackoffMultiplier: connector.DefaultBackoffMultiplier,
		BackoffJitter:     connector.DefaultBackoffJitter,
		OnLoss:            connector.Resume.String(),
		LogLevel:          "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if _, err := transport.ParseEndpoint(c.Address); err != nil {
		return fmt.Errorf("address: %w", err)
	}
	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive: %w", domain.ErrInvalidConfig)
	}
	if c.Repeat < 0 || c.ReadyDeadline < 0 || c.GroupDeadline < 0 {
		return fmt.Errorf("durations must not be negative: %w", domain.ErrInvalidConfig)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Members))
	for _, m := range c.Members {
		if m.Name == "" {
			return fmt.Errorf("member %q has no name: %w", m.Address, domain.ErrInvalidConfig)
		}
		if seen[m.Name] {
			return fmt.Errorf("member %q: %w", m.Name, domain.ErrDuplicateMember)
		}
		seen[m.Name] = true
		if _, err := transport.ParseEndpoint(m.Address); err != nil {
			return fmt.Errorf("member %s: %w", m.Name, err)
		}
	}
	return nil
}

// Endpoint returns the parsed Address.
func (c Config) Endpoint() (transport.Endpoint, error) {
	return transport.ParseEndpoint(c.Address)
}

// Policy returns the connector retry policy.
func (c Config) Policy() (connector.Policy, error) {
	onLoss, err := connector.ParseOnLoss(c.OnLoss)
	if err != nil {
		return connector.Policy{}, err
	}
	p := connector.Policy{
		Initial:     c.BackoffInitial,
		Max:         c.BackoffMax,
		Multiplier:  c.BackoffMultiplier,
		Jitter:      c.BackoffJitter,
		MaxAttempts: c.MaxAttempts,
		OnLoss:      onLoss,
	}
	return p, p.Validate()
}

// SessionConfig builds the session configuration for a transport.
func (c Config) SessionConfig(tr *transport.Transport) (session.Config, error) {
	ep, err := c.Endpoint()
	if err != nil {
		return session.Config{}, err
	}
	p, err := c.Policy()
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Transport:     tr,
		Endpoint:      ep,
		Deadline:      c.Deadline,
		Repeat:        c.Repeat,
		Policy:        p,
		ReadyDeadline: c.ReadyDeadline,
	}, nil
}

// GroupOptions builds the group description from Members.
func (c Config) GroupOptions() (session.GroupOptions, error) {
	opts := session.GroupOptions{Deadline: c.GroupDeadline, Strict: c.Strict}
	for _, m := range c.Members {
		ep, err := transport.ParseEndpoint(m.Address)
		if err != nil {
			return opts, fmt.Errorf("member %s: %w", m.Name, err)
		}
		opts.Peers = append(opts.Peers, session.Peer{Name: m.Name, Endpoint: ep})
	}
	return opts, nil
}

// ParseMembers parses "name=address" pairs.
func ParseMembers(pairs []string) ([]Member, error) {
	var out []Member
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, addr, ok := strings.Cut(p, "=")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("member %q is not name=address: %w", p, domain.ErrInvalidConfig)
		}
		out = append(out, Member{Name: strings.TrimSpace(name), Address: strings.TrimSpace(addr)})
	}
	return out, nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setMembers replaces the member list if the flag was not set.
func (s *configSetter) setMembers(flag string, value []Member, dst *[]Member) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
