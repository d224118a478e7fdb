package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileMember is one [[members]] table.
type FileMember struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Address           string       `toml:"address"`
	Variant           string       `toml:"variant"`
	Deadline          string       `toml:"deadline"`
	Repeat            string       `toml:"repeat"`
	ReadyDeadline     string       `toml:"ready_deadline"`
	GroupDeadline     string       `toml:"group_deadline"`
	Strict            *bool        `toml:"strict"`
	Session           *bool        `toml:"session"`
	BackoffInitial    string       `toml:"backoff_initial"`
	BackoffMax        string       `toml:"backoff_max"`
	BackoffMultiplier float64      `toml:"backoff_multiplier"`
	BackoffJitter     float64      `toml:"backoff_jitter"`
	MaxAttempts       int          `toml:"max_attempts"`
	OnLoss            string       `toml:"on_loss"`
	LogLevel          string       `toml:"log_level"`
	MetricsAddr       string       `toml:"metrics_addr"`
	Members           []FileMember `toml:"members"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.peerlink/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".peerlink", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("address", fc.Address, &cfg.Address)
	s.setString("variant", fc.Variant, &cfg.Variant)
	s.setString("on-loss", fc.OnLoss, &cfg.OnLoss)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"deadline", fc.Deadline, &cfg.Deadline},
		{"repeat", fc.Repeat, &cfg.Repeat},
		{"ready-deadline", fc.ReadyDeadline, &cfg.ReadyDeadline},
		{"group-deadline", fc.GroupDeadline, &cfg.GroupDeadline},
		{"backoff-initial", fc.BackoffInitial, &cfg.BackoffInitial},
		{"backoff-max", fc.BackoffMax, &cfg.BackoffMax},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setFloat("backoff-multiplier", fc.BackoffMultiplier, &cfg.BackoffMultiplier)
	s.setFloat("backoff-jitter", fc.BackoffJitter, &cfg.BackoffJitter)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)

	s.setBool("strict", fc.Strict, &cfg.Strict)
	s.setBool("session", fc.Session, &cfg.Session)

	members := make([]Member, 0, len(fc.Members))
	for _, m := range fc.Members {
		members = append(members, Member{Name: m.Name, Address: m.Address})
	}
	s.setMembers("member", members, &cfg.Members)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
