// Package config loads and validates edgefuzz's on-disk configuration,
// overlaying CLI flags on top of an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of edgefuzz's configuration tree.
type Config struct {
	Fuzz      FuzzConfig      `yaml:"fuzz"`
	Simplify  SimplifyConfig  `yaml:"simplify"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Output    OutputConfig    `yaml:"output"`
}

// FuzzConfig controls the worker/controller run.
type FuzzConfig struct {
	NumWorkers       int           `yaml:"num_workers"`
	MaxInputSize     int           `yaml:"max_input_size"`
	MaxInsertLength  int           `yaml:"max_insert_length"`
	MaxModifications int           `yaml:"max_modifications"`
	MaxCrashes       int           `yaml:"max_crashes"`
	MaxRuns          int64         `yaml:"max_runs"`
	MaxTime          time.Duration `yaml:"max_time"`
	Adaptive         bool          `yaml:"adaptive"`
	CloseStdout      bool          `yaml:"close_stdout"`
	CloseStderr      bool          `yaml:"close_stderr"`
	StateFile        string        `yaml:"state_file"`
	CrashDir         string        `yaml:"crash_dir"`
	Dictionary       string        `yaml:"dictionary"`
	StatFrequency    time.Duration `yaml:"stat_frequency"`
	LoadCrashes      bool          `yaml:"load_crashes"`
	MaxExecRate      float64       `yaml:"max_exec_rate"`
}

// SimplifyConfig controls the `simp` subcommand.
type SimplifyConfig struct {
	OutputDir  string        `yaml:"output_dir"`
	TimeBudget time.Duration `yaml:"time_budget"`
	NumWorkers int           `yaml:"num_workers"`
}

// ClusterConfig controls the optional `web` read-only dashboard.
type ClusterConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// OutputConfig controls logging and the TUI.
type OutputConfig struct {
	Verbose   bool `yaml:"verbose"`
	EnableTUI bool `yaml:"enable_tui"`
	QuietMode bool `yaml:"quiet_mode"`
}

// Default returns the configuration applied before a YAML file or CLI
// flags are layered on top.
func Default() *Config {
	return &Config{
		Fuzz: FuzzConfig{
			NumWorkers:       0, // 0 means "CPU count minus one"; resolved at startup
			MaxInputSize:     4096,
			MaxInsertLength:  16,
			MaxModifications: 8,
			Adaptive:         true,
			StatFrequency:    10 * time.Second,
		},
		Simplify: SimplifyConfig{
			TimeBudget: time.Minute,
			NumWorkers: 4,
		},
		Cluster: ClusterConfig{
			ListenAddress: ":8791",
		},
		Output: OutputConfig{
			EnableTUI: false,
		},
	}
}

// Load reads path as YAML and overlays it on top of Default(). A missing
// file is not an error: the caller gets the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
