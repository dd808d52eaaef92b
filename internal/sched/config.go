package sched

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	TickMS    int          `yaml:"tick_ms"`    // 16 (by default, ~60 ticks per second)
	TimeScale float64      `yaml:"time_scale"` // 1.0 by default, 0 pauses duration waits
	LogLevel  string       `yaml:"log_level"`  // info (by default)
	CSVPath   string       `yaml:"csv_path"`   // empty = no csv
	RunFor    string       `yaml:"run_for"`    // empty = until interrupted
	Calls     []CallConfig `yaml:"calls"`
}

// CallConfig describes one primitive to build at startup.
type CallConfig struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`  // runner | repeater
	Unit            string `yaml:"unit"`  // ticks | duration
	First           string `yaml:"first"` // "3" for ticks, "250ms" for duration
	Interval        string `yaml:"interval"`
	IgnoreTimeScale bool   `yaml:"ignore_time_scale"`
	Phase           string `yaml:"phase"`
	Triggers        int    `yaml:"triggers"` // runner only: Trigger calls issued at start
}

const (
	KindRunner   = "runner"
	KindRepeater = "repeater"
)

// DefaultConfig returns the values used when no config file is found. Build
// configs for New from here rather than a zero Config.
func DefaultConfig() Config {
	return Config{
		TickMS:    16,
		TimeScale: 1,
		LogLevel:  "info",
	}
}

// Load reads YAML and overrides defaults; empty path or missing file = defaults only
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	// sanity clamps
	if cfg.TickMS <= 0 {
		cfg.TickMS = 16
	}
	if cfg.TimeScale < 0 {
		cfg.TimeScale = 0
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}

	if _, err := cfg.RunDuration(); err != nil {
		return cfg, err
	}
	for i, c := range cfg.Calls {
		if _, err := c.Spec(); err != nil {
			return cfg, fmt.Errorf("calls[%d]: %w", i, err)
		}
	}
	return cfg, nil
}

// TickInterval is the wall-clock period between ticks.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

// RunDuration parses run_for; zero means run until cancelled.
func (c Config) RunDuration() (time.Duration, error) {
	return parseDurationField("run_for", c.RunFor)
}

// Spec validates the entry and converts it into a delay policy.
func (c CallConfig) Spec() (DelaySpec, error) {
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case KindRunner, KindRepeater:
	default:
		return DelaySpec{}, fmt.Errorf("%s: kind %q must be %q or %q", c.Name, c.Kind, KindRunner, KindRepeater)
	}
	if _, err := ParsePhase(c.Phase); err != nil {
		return DelaySpec{}, fmt.Errorf("%s.phase: %w", c.Name, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Unit)) {
	case "", "ticks", "tick", "frames":
		first, err := parseTicksField(c.Name+".first", c.First)
		if err != nil {
			return DelaySpec{}, err
		}
		interval, err := parseTicksField(c.Name+".interval", c.Interval)
		if err != nil {
			return DelaySpec{}, err
		}
		return TickDelay(first, interval), nil
	case "duration", "time":
		first, err := parseDurationField(c.Name+".first", c.First)
		if err != nil {
			return DelaySpec{}, err
		}
		interval, err := parseDurationField(c.Name+".interval", c.Interval)
		if err != nil {
			return DelaySpec{}, err
		}
		return DurationDelay(first, interval, c.IgnoreTimeScale), nil
	default:
		return DelaySpec{}, fmt.Errorf("%s.unit %q: %w", c.Name, c.Unit, ErrUnknownUnit)
	}
}

func parseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrNegativeDelay)
	}
	return d, nil
}

func parseTicksField(path, raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid tick count %q: %w", path, raw, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrNegativeDelay)
	}
	return n, nil
}
