package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// launcherFile is the optional YAML file carrying defaults an operator
// does not want to repeat on every invocation.
type launcherFile struct {
	Provider     string            `yaml:"provider"`
	SessionDir   string            `yaml:"session_dir"`
	Namespace    string            `yaml:"namespace"`
	TestPlan     string            `yaml:"test_plan"`
	LogFormat    string            `yaml:"log_format"`
	LogLevel     string            `yaml:"log_level"`
	ResumePolicy string            `yaml:"resume_policy"`
	Manifest     map[string]string `yaml:"manifest"`
}

// MergeFile overlays a launcher config file onto cfg. Values already
// set on cfg win: the command line beats the file.
func MergeFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read launcher config: %w", err)
	}
	var file launcherFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse launcher config %s: %w", path, err)
	}

	if cfg.ProviderPath == "" {
		cfg.ProviderPath = file.Provider
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = file.SessionDir
	}
	if cfg.Namespace == "" {
		cfg.Namespace = file.Namespace
	}
	if cfg.TestPlan == "" {
		cfg.TestPlan = file.TestPlan
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = file.LogFormat
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = file.LogLevel
	}
	if cfg.ResumePolicy == "" {
		cfg.ResumePolicy = file.ResumePolicy
	}
	if cfg.Manifest == nil {
		cfg.Manifest = file.Manifest
	} else {
		for key, value := range file.Manifest {
			if _, ok := cfg.Manifest[key]; !ok {
				cfg.Manifest[key] = value
			}
		}
	}
	return cfg, nil
}
