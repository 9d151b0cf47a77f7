package sct

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/interleave-sct/interleave/sct/driver"
	"github.com/interleave-sct/interleave/sct/stoppoint"
	"github.com/interleave-sct/interleave/sct/tree"
)

// ConfigEnv names the environment variable holding the default config path.
const ConfigEnv = "INTERLEAVE_CONFIG"

// Config is the scheduler configuration, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML"; string fields use empty string for "not set".
type Config struct {
	Driver             string   `yaml:"driver"`      // console | fuzzing | pursuing | systematic[,order[,extraLog]]
	Pruner             string   `yaml:"pruner"`      // identity (default) | randomthset
	Seed               *int64   `yaml:"seed"`        // nil = time-based, logged
	WeakPoints         []string `yaml:"weak_points"` // stop-point patterns
	StrongPoints       []string `yaml:"strong_points"`
	PreemptionBound    *uint64  `yaml:"preemption_bound"`    // nil = unbounded
	PreemptionOverflow string   `yaml:"preemption_overflow"` // continue (default) | terminate
	StopType           string   `yaml:"stop_type"`           // deferred (default) | immediate
	EntryPoint         string   `yaml:"entry_point"`         // frame matcher "Type [Method]"
	DataFile           string   `yaml:"data_file"`
	TraceFile          string   `yaml:"trace_file"`  // "-" stdout, "--" stderr, else a path
	ThawSettle         string   `yaml:"thaw_settle"` // Go duration; negative disables settling
	PursueIndex        int      `yaml:"pursue_index"`
	LogLevel           string   `yaml:"log_level"`
	LogFile            string   `yaml:"log_file"`
}

// ValidStopTypes is the set of recognized stop_type values.
var ValidStopTypes = map[string]bool{"": true, "deferred": true, "immediate": true}

// LoadConfig reads, validates and defaults a YAML configuration file.
// Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes, validates and defaults YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DecodeConfig strictly decodes YAML configuration bytes without defaulting or validating,
// for callers that fill in fields before creating a session. Empty input is an empty Config.
func DecodeConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) withDefaults() {
	if c.Driver == "" {
		c.Driver = string(driver.KindFuzzing)
	}
	if c.PreemptionOverflow == "" {
		c.PreemptionOverflow = "continue"
	}
	if c.StopType == "" {
		c.StopType = "deferred"
	}
	if c.ThawSettle == "" {
		c.ThawSettle = "0s"
	}
}

// Validate checks names, patterns and ranges. Patterns are compiled and discarded.
func (c *Config) Validate() error {
	if _, err := driver.ParseSpec(c.Driver); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if !tree.IsValidPruner(c.Pruner) {
		return fmt.Errorf("unknown pruner %q", c.Pruner)
	}
	if _, err := ParseOverflow(c.PreemptionOverflow); err != nil {
		return err
	}
	if !ValidStopTypes[c.StopType] {
		return fmt.Errorf("unknown stop_type %q (valid: deferred, immediate)", c.StopType)
	}
	if c.EntryPoint == "" {
		return errors.New("entry_point must be set")
	}
	if _, err := stoppoint.ParseFrame(c.EntryPoint); err != nil {
		return fmt.Errorf("entry_point: %w", err)
	}
	if _, err := stoppoint.ParseAll(c.WeakPoints); err != nil {
		return fmt.Errorf("weak_points: %w", err)
	}
	if _, err := stoppoint.ParseAll(c.StrongPoints); err != nil {
		return fmt.Errorf("strong_points: %w", err)
	}
	if _, err := c.ThawSettleDuration(); err != nil {
		return err
	}
	if c.PursueIndex < 0 {
		return fmt.Errorf("pursue_index must be non-negative, got %d", c.PursueIndex)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

// ThawSettleDuration parses thaw_settle. An empty value is zero.
func (c *Config) ThawSettleDuration() (time.Duration, error) {
	if c.ThawSettle == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ThawSettle)
	if err != nil {
		return 0, fmt.Errorf("thaw_settle: %w", err)
	}
	return d, nil
}

// Bound returns the preemption bound, unbounded when unset.
func (c *Config) Bound() uint64 {
	if c.PreemptionBound == nil {
		return math.MaxUint64
	}
	return *c.PreemptionBound
}

// StopImmediate reports whether cross-thread freezes suspend the target directly.
func (c *Config) StopImmediate() bool { return c.StopType == "immediate" }
