// config/types.go
package config

import (
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
)

// Config is the on-disk configuration. Durations and sizes stay strings in
// the file ("10m", "256MB") and are parsed by Parse.
type Config struct {
	Debug         bool   `mapstructure:"debug" toml:"debug" json:"debug"`
	LogFile       string `mapstructure:"log_file" toml:"log_file" json:"log_file"`
	Threads       int    `mapstructure:"threads" toml:"threads" json:"threads"`
	Duration      string `mapstructure:"duration" toml:"duration" json:"duration"`
	PhaseDuration string `mapstructure:"phase_duration" toml:"phase_duration" json:"phase_duration"`
	PassThrottle  string `mapstructure:"pass_throttle" toml:"pass_throttle" json:"pass_throttle"`
	GracePeriod   string `mapstructure:"grace_period" toml:"grace_period" json:"grace_period"`
	RamType       string `mapstructure:"ram_type" toml:"ram_type" json:"ram_type"`
	RamBudget     string `mapstructure:"ram_budget" toml:"ram_budget" json:"ram_budget"`
	Pin           bool   `mapstructure:"pin" toml:"pin" json:"pin"`
	Runs          int    `mapstructure:"runs" toml:"runs" json:"runs"`
	Socket        string `mapstructure:"socket" toml:"socket" json:"socket"`
}

// Settings is a Config with every field parsed.
type Settings struct {
	Debug         bool
	LogFile       string
	Threads       int
	Duration      time.Duration
	PhaseDuration time.Duration
	PassThrottle  time.Duration
	GracePeriod   time.Duration
	// RamType is nil for automatic detection.
	RamType        *memory.RamType
	RamBudgetBytes uint64
	Pin            bool
	Runs           int
	Socket         string
}
