// Package config provides configuration loading and management for the
// segmentation pipeline. It handles loading configuration from YAML files
// and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure, so callers can treat
// all misconfiguration the same way.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input selection parameters
	Input struct {
		// CTRoot is the directory searched recursively for CT volumes
		CTRoot string `yaml:"ctRoot"`

		// Suffix selects which files under CTRoot are treated as scans
		Suffix string `yaml:"suffix"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Root is the directory run directories are created under.
		// Commands staging runs beside each scan leave it unused.
		Root string `yaml:"root"`

		// SavePreviews writes orthogonal PNG slices of each combined
		// label volume into the run directory
		SavePreviews bool `yaml:"savePreviews"`
	} `yaml:"output"`

	// Batch parameters
	Batch struct {
		// Workers is the number of scans processed concurrently
		Workers int `yaml:"workers"`
	} `yaml:"batch"`

	// External segmentation tool parameters
	Segmenter struct {
		// Command is the tool executable, resolved through PATH
		Command string `yaml:"command"`

		// Task is the segmentation preset passed as --task
		Task string `yaml:"task"`

		// Fast selects the tool's lower resolution model
		Fast bool `yaml:"fast"`

		// ExtraArgs are appended to the tool command line verbatim
		ExtraArgs []string `yaml:"extraArgs"`
	} `yaml:"segmenter"`

	// Log parameters
	Log struct {
		// File is the rotating log file path; empty logs to stderr only
		File string `yaml:"file"`

		// MaxSizeMB is the size a log file may reach before rotation
		MaxSizeMB int `yaml:"maxSizeMB"`

		// MaxAgeDays is how long rotated log files are kept
		MaxAgeDays int `yaml:"maxAgeDays"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Suffix = ".nii.gz"

	// One scan at a time by default: the external tool already saturates a
	// GPU or most of the CPU on its own.
	cfg.Batch.Workers = 1

	cfg.Segmenter.Command = "TotalSegmentator"

	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxAgeDays = 14

	return cfg
}

// LoadConfig loads configuration from a YAML file on top of the defaults
// and validates it. Unknown keys are ignored.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields every command depends on. The output root is
// deliberately not checked here: commands that stage runs beside each scan
// run without one, so those that need it enforce it themselves.
func (cfg *Config) Validate() error {
	if cfg.Input.CTRoot == "" {
		return fmt.Errorf("%w: input.ctRoot is required", ErrInvalid)
	}
	if cfg.Input.Suffix == "" {
		return fmt.Errorf("%w: input.suffix must not be empty", ErrInvalid)
	}
	if cfg.Segmenter.Command == "" {
		return fmt.Errorf("%w: segmenter.command is required", ErrInvalid)
	}
	if cfg.Segmenter.Task == "" {
		return fmt.Errorf("%w: segmenter.task is required", ErrInvalid)
	}
	if cfg.Batch.Workers < 1 {
		return fmt.Errorf("%w: batch.workers must be at least 1", ErrInvalid)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path, as a starting point to fill in.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
