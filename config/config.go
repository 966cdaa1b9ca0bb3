// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/memory"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	configName = "config"
	envPrefix  = "XENO"

	// DefaultSocket is where a running session listens for control commands.
	DefaultSocket = "/tmp/xeno-stress.sock"
	// DefaultFile is what `config init` writes.
	DefaultFile = "config.toml"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Debug:         false,
		LogFile:       utils.DefaultLogFile,
		Threads:       0,
		Duration:      "0",
		PhaseDuration: "2s",
		PassThrottle:  "30ms",
		GracePeriod:   "2s",
		RamType:       "auto",
		RamBudget:     "",
		Pin:           false,
		Runs:          1,
		Socket:        DefaultSocket,
	}
}

// NewViper returns a viper instance carrying the defaults, the XENO_ env
// binding and the config search path (working directory, then ~/.xeno).
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("threads", d.Threads)
	v.SetDefault("duration", d.Duration)
	v.SetDefault("phase_duration", d.PhaseDuration)
	v.SetDefault("pass_throttle", d.PassThrottle)
	v.SetDefault("grace_period", d.GracePeriod)
	v.SetDefault("ram_type", d.RamType)
	v.SetDefault("ram_budget", d.RamBudget)
	v.SetDefault("pin", d.Pin)
	v.SetDefault("runs", d.Runs)
	v.SetDefault("socket", d.Socket)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".xeno"))
	}
	return v
}

// Load reads the configuration into v. path names an explicit file (json or
// toml); when empty the search path is used and a missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Parse validates cfg and converts it to Settings. Every invalid field is
// reported, not just the first.
func (cfg Config) Parse() (Settings, error) {
	s := Settings{
		Debug:   cfg.Debug,
		LogFile: cfg.LogFile,
		Threads: cfg.Threads,
		Pin:     cfg.Pin,
		Runs:    max(cfg.Runs, 1),
		Socket:  cfg.Socket,
	}

	var err error
	if cfg.Threads < 0 {
		err = multierr.Append(err, fmt.Errorf("threads: must not be negative, got %d", cfg.Threads))
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"duration", cfg.Duration, &s.Duration},
		{"phase_duration", cfg.PhaseDuration, &s.PhaseDuration},
		{"pass_throttle", cfg.PassThrottle, &s.PassThrottle},
		{"grace_period", cfg.GracePeriod, &s.GracePeriod},
	}
	for _, d := range durations {
		v, perr := parseDuration(d.raw)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", d.name, perr))
			continue
		}
		*d.dst = v
	}

	if cfg.RamBudget != "" {
		size, perr := utils.ParseSize(cfg.RamBudget)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("ram_budget: %w", perr))
		} else {
			s.RamBudgetBytes = uint64(size)
		}
	}

	rt, perr := memory.ParseRamType(cfg.RamType)
	if perr != nil {
		err = multierr.Append(err, fmt.Errorf("ram_type: %w", perr))
	} else {
		s.RamType = rt
	}

	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %v", d)
	}
	return d, nil
}

// Write stores cfg as TOML at path, replacing any existing file atomically.
func Write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return multierr.Append(fmt.Errorf("write temp config file: %w", err), tempFile.Close())
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	cleanup = false
	return nil
}
