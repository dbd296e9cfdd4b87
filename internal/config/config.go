// Package config provides configuration loading, validation, and hot
// reload for the process triage engine.
//
// Three documents exist:
//
//	agent config — operational parameters (logging, metrics, session
//	               root, scan cadence); read once at startup
//	priors file  — versioned Beta/Gamma/Dirichlet hyperparameters per
//	               class; schema version must match the runtime
//	               expectation exactly
//	policy file  — loss matrix, FDR α, robot-mode threshold,
//	               load-aware weights
//
// Priors and policy are reloadable (see watch.go). Agent config
// validation collects every violation before failing; priors and policy
// validation stops at the first one. In both cases:
//   - Invalid config on startup: the engine refuses to start.
//   - Invalid config on hot reload: logged, old document retained.
//     The engine never scores with an invalid document.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joyshmitz/process-triage-sub005/internal/calibrate"
	"github.com/joyshmitz/process-triage-sub005/internal/pressure"
	"github.com/joyshmitz/process-triage-sub005/internal/signature"
)

// Version, GitCommit, BuildTime are overridden at build time via -ldflags -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root agent configuration.
type Config struct {
	// SchemaVersion must be "1".
	SchemaVersion string `yaml:"schema_version"`

	// SessionRoot is the directory holding per-session state.
	SessionRoot string `yaml:"session_root"`

	// PriorsPath and PolicyPath locate the reloadable documents.
	PriorsPath string `yaml:"priors_path"`
	PolicyPath string `yaml:"policy_path"`

	// SignaturesPath locates the signature database; empty uses the
	// built-in set.
	SignaturesPath string `yaml:"signatures_path"`

	// HistoryDBPath is the calibration version-history database.
	HistoryDBPath string `yaml:"history_db_path"`

	// ScanTimeout bounds the external ps invocation.
	ScanTimeout time.Duration `yaml:"scan_timeout"`

	Pressure    pressure.Config          `yaml:"pressure"`
	Calibration calibrate.Config         `yaml:"calibration"`
	FastPath    signature.FastPathConfig `yaml:"fast_path"`

	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Loopback only by default.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is the minimum level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat is json or console.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		SchemaVersion: "1",
		SessionRoot:   "/var/lib/process-triage/sessions",
		PriorsPath:    "/etc/process-triage/priors.yaml",
		PolicyPath:    "/etc/process-triage/policy.yaml",
		HistoryDBPath: "/var/lib/process-triage/priors-history.db",
		ScanTimeout:   5 * time.Second,
		Pressure:      pressure.DefaultConfig(),
		Calibration:   calibrate.DefaultConfig(),
		FastPath:      signature.DefaultFastPathConfig(),
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9272",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates the agent config, merging file values over
// defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks all agent config fields, collecting every violation.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.SessionRoot == "" {
		errs = append(errs, "session_root must not be empty")
	}
	if cfg.PriorsPath == "" {
		errs = append(errs, "priors_path must not be empty")
	}
	if cfg.PolicyPath == "" {
		errs = append(errs, "policy_path must not be empty")
	}
	if cfg.ScanTimeout < time.Second {
		errs = append(errs, fmt.Sprintf("scan_timeout must be >= 1s, got %s", cfg.ScanTimeout))
	}
	if err := cfg.Pressure.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := cfg.Calibration.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.FastPath.MinScore < 0 || cfg.FastPath.MinScore > 1 {
		errs = append(errs, fmt.Sprintf("fast_path.min_score must be in [0,1], got %g", cfg.FastPath.MinScore))
	}
	switch cfg.Observability.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format must be json or console, got %q", cfg.Observability.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
