// Package config reads pipeline files: which filters run, in what order, with
// which options, and where the dataset lives.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"morpho-filters/internal/logger"
	"morpho-filters/internal/processing/filters"
)

type FilterConfig struct {
	Name    string                 `yaml:"name"`
	Options map[string]interface{} `yaml:"options,omitempty"`
}

type Config struct {
	LogLevel string `yaml:"log_level"`
	// Workers is the default per-filter worker count; a filter's own
	// "workers" option wins.
	Workers   int    `yaml:"workers"`
	BatchSize int    `yaml:"batch_size"`
	Input     string `yaml:"input"`
	Output    string `yaml:"output"`
	// MemoryLimit caps live native image memory in bytes; 0 keeps the default.
	MemoryLimit int64          `yaml:"memory_limit"`
	Filters     []FilterConfig `yaml:"filters"`
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		Workers:   1,
		BatchSize: 32,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a pipeline file over the defaults. Unknown top-level keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing pipeline file: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate(registry *filters.Registry) error {
	var errs error

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.BatchSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize))
	}
	if c.MemoryLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("memory_limit must not be negative, got %d", c.MemoryLimit))
	}
	if c.Input == "" {
		errs = multierr.Append(errs, errors.New("input directory is required"))
	}
	if c.Output == "" {
		errs = multierr.Append(errs, errors.New("output directory is required"))
	}
	if c.Input != "" && c.Input == c.Output {
		errs = multierr.Append(errs, errors.New("input and output must be different directories"))
	}
	if len(c.Filters) == 0 {
		errs = multierr.Append(errs, errors.New("no filters configured"))
	}

	for i, f := range c.Filters {
		if _, err := registry.Lookup(f.Name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filters[%d]: %w", i, err))
		}
	}

	return errs
}

// BuildFilters constructs the configured filters in order. Option errors of all
// filters are collected; each wraps filters.ErrInvalidConfig where applicable.
func (c *Config) BuildFilters(registry *filters.Registry, deps filters.Dependencies) ([]filters.Filter, error) {
	var (
		built []filters.Filter
		errs  error
	)

	for i, fc := range c.Filters {
		f, err := registry.Create(fc.Name, c.options(fc), deps)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("filters[%d] %s: %w", i, fc.Name, err))
			continue
		}
		built = append(built, f)
	}

	if errs != nil {
		return nil, errs
	}
	return built, nil
}

func (c *Config) options(fc FilterConfig) map[string]interface{} {
	opts := make(map[string]interface{}, len(fc.Options)+1)
	for k, v := range fc.Options {
		opts[k] = v
	}
	if _, set := opts["workers"]; !set && c.Workers > 1 {
		opts["workers"] = c.Workers
	}
	return opts
}
