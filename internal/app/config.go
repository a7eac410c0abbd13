package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/canonical/checkbox-sub003/internal/run"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// ProviderPath is the directory holding .hcl unit definitions.
	ProviderPath string
	// SessionDir holds the snapshot, lock, and resource cache.
	SessionDir string
	// Namespace is the implicit namespace for bare unit ids.
	Namespace string
	// TestPlan selects the plan to run, bare or fully qualified.
	TestPlan string

	LogFormat string
	LogLevel  string

	// ResumePolicy decides the fate of a no-return job found in flight
	// on restart.
	ResumePolicy string
	// DiscardOnMismatch restarts instead of aborting when a resumed
	// snapshot no longer matches the catalog.
	DiscardOnMismatch bool

	// Manifest is the operator-declared hardware facts map.
	Manifest map[string]string
}

// NewConfig validates a Config and normalizes defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProviderPath == "" {
		return nil, errors.New("ProviderPath is a required configuration field and cannot be empty")
	}
	if cfg.SessionDir == "" {
		return nil, errors.New("SessionDir is a required configuration field and cannot be empty")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("Namespace is a required configuration field and cannot be empty")
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	policy, err := run.ParseResumePolicy(cfg.ResumePolicy)
	if err != nil {
		return nil, err
	}
	cfg.ResumePolicy = string(policy)

	return &cfg, nil
}
