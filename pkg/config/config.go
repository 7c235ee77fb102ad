// Package config loads the inspector's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full inspector configuration.
type Config struct {
	// Filters toggles the benign-pattern suppression filters.
	Filters struct {
		// HeapExecutable suppresses executable-private findings on
		// heap-flagged subregions. Off by default.
		HeapExecutable bool `yaml:"heap_executable"`
	} `yaml:"filters"`

	// Dump configures the memory-dump sink.
	Dump struct {
		Dir      string `yaml:"dir"`
		Compress bool   `yaml:"compress"`
	} `yaml:"dump"`

	// Report configures scan persistence.
	Report struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"report"`

	// Metrics configures the optional Prometheus endpoint.
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	// Sweep bounds the all-process scan mode.
	Sweep struct {
		// RatePerSecond caps process opens per second; zero means unlimited.
		RatePerSecond float64 `yaml:"rate_per_second"`
	} `yaml:"sweep"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Dump.Dir = "moneta-dumps"
	cfg.Sweep.RatePerSecond = 0
	return cfg
}

// Load reads a YAML config file, layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
