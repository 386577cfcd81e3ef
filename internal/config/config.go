// Package config loads and validates TaskGen runtime configuration from
// environment variables, and provides a thread-safe holder for hot values
// (the auto-approval flag and per-hour caps can be flipped without a
// restart via Reload).
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that marshals to/from TOML-friendly strings
// like "15m" or "500ms", used only for the operator-facing Dump() output.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all TaskGen runtime settings.
type Config struct {
	Enabled       bool     `toml:"enabled"`
	Bind          string   `toml:"bind"`
	IntervalMin   int      `toml:"interval_min"`
	WindowMin     int      `toml:"window_min"`
	MinConfidence float64  `toml:"min_confidence"`
	MaxTasks      int      `toml:"max_tasks"`
	MaxPerHour    int      `toml:"max_per_hour"`
	Cron          string   `toml:"cron"`
	WatchDebounce Duration `toml:"watch_debounce"`

	Analyzers AnalyzerThresholds `toml:"analyzers"`
	Auto      AutoApprove        `toml:"auto_approve"`
	Storage   Storage            `toml:"storage"`
}

// AnalyzerThresholds holds the per-analyzer detection tunables.
type AnalyzerThresholds struct {
	ContinuationThreshold float64 `toml:"continuation_threshold"`
	ErrorSpikeMultiplier  float64 `toml:"error_spike_multiplier"`
	DocsGapMinUsage       int     `toml:"docs_gap_min_usage"`
	PerformanceThreshold  float64 `toml:"performance_threshold"`
	UXAbortThreshold      float64 `toml:"ux_abort_threshold"`
}

// AutoApprove holds the six-gate auto-approval settings.
type AutoApprove struct {
	Enabled          bool     `toml:"enabled"`
	ConfidenceFloor  float64  `toml:"confidence_floor"`
	TrustedAnalyzers []string `toml:"trusted_analyzers"`
	MaxPerHour       int      `toml:"max_per_hour"`
	AllowedTypes     []string `toml:"allowed_types"`
}

// Storage holds the two directories TaskGen treats as its persisted state
// layout.
type Storage struct {
	TasksDir      string `toml:"tasks_dir"`
	ContextLogDir string `toml:"contextlog_dir"`
}

// Default returns the documented defaults for every setting.
func Default() *Config {
	return &Config{
		Enabled:       true,
		Bind:          ":8088",
		IntervalMin:   15,
		WindowMin:     60,
		MinConfidence: 0.6,
		MaxTasks:      20,
		MaxPerHour:    10,
		WatchDebounce: Duration{500 * time.Millisecond},
		Analyzers: AnalyzerThresholds{
			ContinuationThreshold: 0.15,
			ErrorSpikeMultiplier:  3.0,
			DocsGapMinUsage:       20,
			PerformanceThreshold:  1.5,
			UXAbortThreshold:      0.20,
		},
		Auto: AutoApprove{
			Enabled:          false,
			ConfidenceFloor:  0.90,
			TrustedAnalyzers: []string{"continuation_issue", "error_spike"},
			MaxPerHour:       5,
			AllowedTypes: []string{
				"continuation_issue",
				"error_spike",
				"documentation_gap",
				"performance_degradation",
				"ux_issue",
			},
		},
		Storage: Storage{
			TasksDir:      "tasks",
			ContextLogDir: "context_log",
		},
	}
}

// Clone returns a deep-enough copy so callers can mutate it without
// affecting the manager's live value.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Auto.TrustedAnalyzers = append([]string(nil), c.Auto.TrustedAnalyzers...)
	cp.Auto.AllowedTypes = append([]string(nil), c.Auto.AllowedTypes...)
	return &cp
}

// Load builds a Config from environment variables, falling back to
// Default() for anything unset or unparsable.
func Load() (*Config, error) {
	cfg := Default()

	boolVar(&cfg.Enabled, "TASKGEN_ENABLED")
	intVar(&cfg.IntervalMin, "TASKGEN_INTERVAL_MIN")
	intVar(&cfg.WindowMin, "TASKGEN_WINDOW_MIN")
	floatVar(&cfg.MinConfidence, "TASKGEN_MIN_CONFIDENCE")
	intVar(&cfg.MaxTasks, "TASKGEN_MAX_TASKS")
	intVar(&cfg.MaxPerHour, "TASKGEN_MAX_PER_HOUR")
	stringVar(&cfg.Cron, "TASKGEN_CRON")
	stringVar(&cfg.Bind, "TASKGEN_BIND")

	floatVar(&cfg.Analyzers.ContinuationThreshold, "TASKGEN_CONTINUATION_THRESHOLD")
	floatVar(&cfg.Analyzers.ErrorSpikeMultiplier, "TASKGEN_ERROR_SPIKE_MULTIPLIER")
	intVar(&cfg.Analyzers.DocsGapMinUsage, "TASKGEN_DOCS_GAP_MIN_USAGE")
	floatVar(&cfg.Analyzers.PerformanceThreshold, "TASKGEN_PERFORMANCE_THRESHOLD")
	floatVar(&cfg.Analyzers.UXAbortThreshold, "TASKGEN_UX_ABORT_THRESHOLD")

	boolVar(&cfg.Auto.Enabled, "TASKGEN_AUTO_APPROVE")
	floatVar(&cfg.Auto.ConfidenceFloor, "TASKGEN_AUTO_APPROVE_CONFIDENCE")
	intVar(&cfg.Auto.MaxPerHour, "TASKGEN_AUTO_APPROVE_MAX_PER_HOUR")
	if raw := strings.TrimSpace(os.Getenv("TASKGEN_AUTO_APPROVE_ANALYZERS")); raw != "" {
		cfg.Auto.TrustedAnalyzers = splitCSV(raw)
	}

	stringVar(&cfg.Storage.TasksDir, "FGK_TASKS_DIR")
	stringVar(&cfg.Storage.ContextLogDir, "FGK_CONTEXTLOG_DIR")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the documented numeric ranges.
func (c *Config) Validate() error {
	if c.IntervalMin <= 0 {
		return fmt.Errorf("config: interval_min must be > 0, got %d", c.IntervalMin)
	}
	if c.WindowMin <= 0 {
		return fmt.Errorf("config: window_min must be > 0, got %d", c.WindowMin)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence must be in [0,1], got %f", c.MinConfidence)
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("config: max_tasks must be > 0, got %d", c.MaxTasks)
	}
	if c.MaxPerHour <= 0 {
		return fmt.Errorf("config: max_per_hour must be > 0, got %d", c.MaxPerHour)
	}
	if c.Storage.TasksDir == "" || c.Storage.ContextLogDir == "" {
		return fmt.Errorf("config: tasks_dir and contextlog_dir are required")
	}
	return nil
}

// Dump renders the config as TOML for operator inspection/debugging.
func (c *Config) Dump() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", fmt.Errorf("config: dump: %w", err)
	}
	return buf.String(), nil
}

func boolVar(dst *bool, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if v, err := strconv.Atoi(raw); err == nil {
		*dst = v
	}
}

func floatVar(dst *float64, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = v
	}
}

func stringVar(dst *string, key string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw != "" {
		*dst = raw
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
