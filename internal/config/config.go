// Package config provides unified configuration loading for seekwalk.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/seekwalk/internal/scheduler"
	"github.com/nvandessel/seekwalk/internal/telemetry"
	"github.com/nvandessel/seekwalk/internal/walk"
)

// DirName is the per-user directory holding config, history and logs.
const DirName = ".seekwalk"

// SeekwalkConfig contains all seekwalk configuration settings.
type SeekwalkConfig struct {
	// Simulation holds the walk parameters and the batch size.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Scheduler overrides the per-phase time budgets.
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Visualization controls density rendering.
	Visualization VisualizationConfig `json:"visualization" yaml:"visualization"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures the batch history database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Telemetry configures OpenTelemetry tracing.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// SimulationConfig holds the parameters of one batch.
type SimulationConfig struct {
	// DesiredSuccesses is how many completed runs to collect. Range: 1 to 5000.
	DesiredSuccesses int `json:"desired_successes" yaml:"desired_successes" env:"SEEKWALK_DESIRED_SUCCESSES"`

	// TargetValue is the counter value that completes a run. Range: 1 to 100.
	TargetValue int `json:"target_value" yaml:"target_value" env:"SEEKWALK_TARGET_VALUE"`

	// InitialProb is the up-probability at zero. Range: (0, 1].
	InitialProb float64 `json:"initial_prob" yaml:"initial_prob" env:"SEEKWALK_INITIAL_PROB"`

	// DecayFactor scales the up-probability per unit of progress. Range: (0, 2].
	DecayFactor float64 `json:"decay_factor" yaml:"decay_factor" env:"SEEKWALK_DECAY_FACTOR"`

	// IterationSafetyCap bounds one attempt regardless of phase.
	IterationSafetyCap int `json:"iteration_safety_cap" yaml:"iteration_safety_cap" env:"SEEKWALK_ITERATION_SAFETY_CAP"`

	// Seed fixes the random source. Zero picks a fresh seed per batch.
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty" env:"SEEKWALK_SEED"`
}

// SchedulerConfig sets the time budget of each phase.
type SchedulerConfig struct {
	InitialTotal        time.Duration `json:"initial_total" yaml:"initial_total" env:"SEEKWALK_INITIAL_TOTAL"`
	InitialPerAttempt   time.Duration `json:"initial_per_attempt" yaml:"initial_per_attempt" env:"SEEKWALK_INITIAL_PER_ATTEMPT"`
	ExtendedTotal       time.Duration `json:"extended_total" yaml:"extended_total" env:"SEEKWALK_EXTENDED_TOTAL"`
	ExtendedPerAttempt  time.Duration `json:"extended_per_attempt" yaml:"extended_per_attempt" env:"SEEKWALK_EXTENDED_PER_ATTEMPT"`
	UnlimitedPerAttempt time.Duration `json:"unlimited_per_attempt" yaml:"unlimited_per_attempt" env:"SEEKWALK_UNLIMITED_PER_ATTEMPT"`

	// SoftWarning and HardAbort bound cumulative time in the unlimited phase.
	SoftWarning time.Duration `json:"soft_warning" yaml:"soft_warning" env:"SEEKWALK_SOFT_WARNING"`
	HardAbort   time.Duration `json:"hard_abort" yaml:"hard_abort" env:"SEEKWALK_HARD_ABORT"`

	// AutoContinue escalates through every phase without asking.
	AutoContinue bool `json:"auto_continue" yaml:"auto_continue" env:"SEEKWALK_AUTO_CONTINUE"`
}

// Budget returns the configured budget for phase p, falling back to the
// built-in budget for any unset field.
func (c SchedulerConfig) Budget(p scheduler.Phase) scheduler.Budget {
	b := scheduler.DefaultBudget(p)
	switch p {
	case scheduler.PhaseInitial:
		b.Total = orDefault(c.InitialTotal, b.Total)
		b.PerAttempt = orDefault(c.InitialPerAttempt, b.PerAttempt)
	case scheduler.PhaseExtended:
		b.Total = orDefault(c.ExtendedTotal, b.Total)
		b.PerAttempt = orDefault(c.ExtendedPerAttempt, b.PerAttempt)
	default:
		b.PerAttempt = orDefault(c.UnlimitedPerAttempt, b.PerAttempt)
		b.SoftWarning = orDefault(c.SoftWarning, b.SoftWarning)
		b.HardAbort = orDefault(c.HardAbort, b.HardAbort)
	}
	return b
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// VisualizationConfig controls how density grids are presented.
type VisualizationConfig struct {
	// Mode is one of "full", "peak", "lines" or "combined".
	Mode string `json:"mode" yaml:"mode" env:"SEEKWALK_VIS_MODE"`

	// ColorScaling is one of "linear", "sqrt", "log" or "percentile".
	ColorScaling string `json:"color_scaling" yaml:"color_scaling" env:"SEEKWALK_COLOR_SCALING"`

	// HistogramBuckets is the number of bars in the path-length chart.
	HistogramBuckets int `json:"histogram_buckets" yaml:"histogram_buckets" env:"SEEKWALK_HISTOGRAM_BUCKETS"`

	// OpenBrowser opens served pages automatically.
	OpenBrowser bool `json:"open_browser" yaml:"open_browser" env:"SEEKWALK_OPEN_BROWSER"`
}

// LoggingConfig configures seekwalk's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the event trail in Dir/events.jsonl.
	Level string `json:"level" yaml:"level" env:"SEEKWALK_LOG_LEVEL"`

	// Dir receives events.jsonl. Defaults to ~/.seekwalk.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty" env:"SEEKWALK_LOG_DIR"`
}

// StoreConfig configures batch history.
type StoreConfig struct {
	// Path is the SQLite database file. Defaults to ~/.seekwalk/history.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" env:"SEEKWALK_STORE_PATH"`

	// Disabled skips recording batches.
	Disabled bool `json:"disabled" yaml:"disabled" env:"SEEKWALK_STORE_DISABLED"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"SEEKWALK_OTEL_ENABLED"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Settings converts the config for telemetry.Setup.
func (c TelemetryConfig) Settings() telemetry.Settings {
	return telemetry.Settings{Enabled: c.Enabled, Endpoint: c.Endpoint, ServiceName: c.ServiceName}
}

// Default returns a SeekwalkConfig with sensible defaults.
func Default() *SeekwalkConfig {
	p := walk.DefaultParams()
	return &SeekwalkConfig{
		Simulation: SimulationConfig{
			DesiredSuccesses:   100,
			TargetValue:        p.TargetValue,
			InitialProb:        p.InitialProb,
			DecayFactor:        p.DecayFactor,
			IterationSafetyCap: p.IterationSafetyCap,
		},
		Visualization: VisualizationConfig{
			Mode:             "full",
			ColorScaling:     "linear",
			HistogramBuckets: 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "seekwalk",
		},
	}
}

// Params returns the walk parameters described by the simulation section.
func (c *SeekwalkConfig) Params() walk.Params {
	return walk.Params{
		InitialProb:        c.Simulation.InitialProb,
		DecayFactor:        c.Simulation.DecayFactor,
		TargetValue:        c.Simulation.TargetValue,
		IterationSafetyCap: c.Simulation.IterationSafetyCap,
	}
}

// HomeDir returns ~/.seekwalk, or .seekwalk when the home directory is
// unknown.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DirName
	}
	return filepath.Join(home, DirName)
}

// DefaultPath is the config file read by Load.
func DefaultPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.seekwalk/config.yaml -> environment variables
func Load() (*SeekwalkConfig, error) {
	return LoadPath(DefaultPath())
}

// LoadPath is Load with an explicit config file. A missing file is not an
// error.
func LoadPath(path string) (*SeekwalkConfig, error) {
	config := Default()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			fileConfig, loadErr := LoadFromFile(path)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	config.resolvePaths()

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*SeekwalkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Store.Path = expandEnvVars(config.Store.Path)
	config.Logging.Dir = expandEnvVars(config.Logging.Dir)

	return config, nil
}

// Save writes the config as YAML with owner-only permissions.
func (c *SeekwalkConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

var (
	validModes    = map[string]bool{"full": true, "peak": true, "lines": true, "combined": true}
	validScalings = map[string]bool{"linear": true, "sqrt": true, "log": true, "percentile": true}
	validLevels   = map[string]bool{"info": true, "debug": true, "trace": true, "warn": true, "error": true}
)

// Validate checks every setting and reports all problems at once as a
// *walk.ValidationError.
func (c *SeekwalkConfig) Validate() error {
	ve := &walk.ValidationError{}
	add := func(format string, args ...any) {
		ve.Problems = append(ve.Problems, fmt.Sprintf(format, args...))
	}

	s := c.Simulation
	if s.DesiredSuccesses < 1 || s.DesiredSuccesses > scheduler.MaxDesiredSuccesses {
		add("desired_successes must be between 1 and %d, got %d", scheduler.MaxDesiredSuccesses, s.DesiredSuccesses)
	}
	if s.TargetValue < 1 || s.TargetValue > walk.MaxTargetValue {
		add("target_value must be between 1 and %d, got %d", walk.MaxTargetValue, s.TargetValue)
	}
	if !(s.InitialProb > 0 && s.InitialProb <= 1) {
		add("initial_prob must be in (0, 1], got %g", s.InitialProb)
	}
	if !(s.DecayFactor > 0 && s.DecayFactor <= 2) {
		add("decay_factor must be in (0, 2], got %g", s.DecayFactor)
	}
	if s.IterationSafetyCap < 1 {
		add("iteration_safety_cap must be positive, got %d", s.IterationSafetyCap)
	}

	for name, d := range map[string]time.Duration{
		"initial_total":         c.Scheduler.InitialTotal,
		"initial_per_attempt":   c.Scheduler.InitialPerAttempt,
		"extended_total":        c.Scheduler.ExtendedTotal,
		"extended_per_attempt":  c.Scheduler.ExtendedPerAttempt,
		"unlimited_per_attempt": c.Scheduler.UnlimitedPerAttempt,
		"soft_warning":          c.Scheduler.SoftWarning,
		"hard_abort":            c.Scheduler.HardAbort,
	} {
		if d < 0 {
			add("%s must be non-negative, got %v", name, d)
		}
	}
	if u := c.Scheduler.Budget(scheduler.PhaseUnlimited); u.SoftWarning > u.HardAbort {
		add("soft_warning (%v) must not exceed hard_abort (%v)", u.SoftWarning, u.HardAbort)
	}

	if !validModes[c.Visualization.Mode] {
		add("invalid visualization mode: %s (valid: full, peak, lines, combined)", c.Visualization.Mode)
	}
	if !validScalings[c.Visualization.ColorScaling] {
		add("invalid color scaling: %s (valid: linear, sqrt, log, percentile)", c.Visualization.ColorScaling)
	}
	if c.Visualization.HistogramBuckets < 1 {
		add("histogram_buckets must be positive, got %d", c.Visualization.HistogramBuckets)
	}

	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		add("invalid log level: %s (valid: info, debug, trace, warn, error, or empty for default)", c.Logging.Level)
	}

	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		add("telemetry.endpoint is required when telemetry is enabled")
	}

	return ve.Err()
}

// applyEnvOverrides applies SEEKWALK_* and OTEL_* environment variables.
func applyEnvOverrides(config *SeekwalkConfig) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *SeekwalkConfig) resolvePaths() {
	if c.Logging.Dir == "" {
		c.Logging.Dir = HomeDir()
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(HomeDir(), "history.db")
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
