// Package config loads the YAML configuration for the examine CLI host:
// index locations, commit tuning, and field definitions.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewmckaskill/Examine/pkg/value"
)

// Config is the complete examine configuration.
type Config struct {
	// Index configures the primary index.
	Index IndexConfig `yaml:"index"`
	// Commit configures the debounced commit scheduler.
	Commit CommitConfig `yaml:"commit"`
	// Fields declares explicit value-type strategies per field name.
	// Undeclared fields default to full-text.
	Fields []FieldConfig `yaml:"fields"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// IndexConfig locates the index and its optional replica.
type IndexConfig struct {
	// Path is the primary index directory.
	Path string `yaml:"path"`
	// ReplicaPath, when set, mirrors the index locks across a second
	// storage location.
	ReplicaPath string `yaml:"replica_path"`
	// Sync makes the pipeline drain on the caller's thread.
	Sync bool `yaml:"sync"`
}

// CommitConfig tunes commit latency.
type CommitConfig struct {
	// Interval is the debounce quiet period.
	Interval time.Duration `yaml:"interval"`
	// MaxInterval is the hard bound on commit latency under sustained
	// writes.
	MaxInterval time.Duration `yaml:"max_interval"`
}

// FieldConfig declares the value-type strategy for one field.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Default returns the configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Index: IndexConfig{Path: ".examine/index"},
		Commit: CommitConfig{
			Interval:    2 * time.Second,
			MaxInterval: 5 * time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML config at path, applying defaults for anything
// unset. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot work
// with.
func (c *Config) Validate() error {
	if c.Index.Path == "" {
		return fmt.Errorf("index.path must not be empty")
	}
	if c.Commit.Interval < 0 || c.Commit.MaxInterval < 0 {
		return fmt.Errorf("commit intervals must not be negative")
	}
	if c.Commit.MaxInterval > 0 && c.Commit.Interval > c.Commit.MaxInterval {
		return fmt.Errorf("commit.interval must not exceed commit.max_interval")
	}
	known := map[string]bool{
		value.TypeFullText: true,
		value.TypeRaw:      true,
		value.TypeInteger:  true,
		value.TypeFloat:    true,
		value.TypeDateTime: true,
	}
	for _, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("field definition with empty name")
		}
		if !known[f.Type] {
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// FieldDefinitions converts the configured fields for the value-type
// collection.
func (c *Config) FieldDefinitions() []value.FieldDefinition {
	defs := make([]value.FieldDefinition, 0, len(c.Fields))
	for _, f := range c.Fields {
		defs = append(defs, value.FieldDefinition{Name: f.Name, Type: f.Type})
	}
	return defs
}
