package cliconfig

import (
	"os"
	"strings"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (PEERLINK_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("address", os.Getenv("PEERLINK_ADDRESS"), &cfg.Address)
	s.setString("variant", os.Getenv("PEERLINK_VARIANT"), &cfg.Variant)
	s.setString("on-loss", os.Getenv("PEERLINK_ON_LOSS"), &cfg.OnLoss)
	s.setString("log-level", os.Getenv("PEERLINK_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("PEERLINK_METRICS_ADDR"), &cfg.MetricsAddr)

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"deadline", "PEERLINK_DEADLINE", &cfg.Deadline},
		{"repeat", "PEERLINK_REPEAT", &cfg.Repeat},
		{"ready-deadline", "PEERLINK_READY_DEADLINE", &cfg.ReadyDeadline},
		{"group-deadline", "PEERLINK_GROUP_DEADLINE", &cfg.GroupDeadline},
		{"backoff-initial", "PEERLINK_BACKOFF_INITIAL", &cfg.BackoffInitial},
		{"backoff-max", "PEERLINK_BACKOFF_MAX", &cfg.BackoffMax},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	if err := s.setFloatFromString("backoff-multiplier", os.Getenv("PEERLINK_BACKOFF_MULTIPLIER"), &cfg.BackoffMultiplier); err != nil {
		return err
	}
	if err := s.setFloatFromString("backoff-jitter", os.Getenv("PEERLINK_BACKOFF_JITTER"), &cfg.BackoffJitter); err != nil {
		return err
	}
	if err := s.setIntFromString("max-attempts", os.Getenv("PEERLINK_MAX_ATTEMPTS"), &cfg.MaxAttempts); err != nil {
		return err
	}

	s.setBoolFromString("strict", os.Getenv("PEERLINK_STRICT"), &cfg.Strict)
	s.setBoolFromString("session", os.Getenv("PEERLINK_SESSION"), &cfg.Session)

	if v := os.Getenv("PEERLINK_MEMBERS"); v != "" {
		members, err := ParseMembers(strings.Split(v, ","))
		if err != nil {
			return err
		}
		s.setMembers("member", members, &cfg.Members)
	}

	return nil
}
