// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads configuration for the fact analysis tools.
//
// Configuration is layered, later layers winning:
//
//  1. the embedded defaults.yaml
//  2. an optional user YAML file
//  3. FACTS_* environment variables
//
// The result is validated once; components receive their own section
// (PlannerConfig, Telemetry, ...).
//
// Thread Safety:
//
//	A loaded Config is a plain value and safe to share read-only.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFacts/pkg/logging"
	"github.com/AleutianAI/AleutianFacts/services/analysis/planner"
	"github.com/AleutianAI/AleutianFacts/services/analysis/telemetry"
)

// MaxConfigFileSize is the maximum accepted config file size (1MB).
const MaxConfigFileSize = 1024 * 1024

// Environment variable names.
const (
	EnvSelectiveThreshold = "FACTS_SELECTIVE_THRESHOLD"
	EnvParallelThreshold  = "FACTS_PARALLEL_THRESHOLD"
	EnvMaxCacheEntries    = "FACTS_MAX_CACHE_ENTRIES"
	EnvRuleWorkers        = "FACTS_RULE_WORKERS"
	EnvLogLevel           = "FACTS_LOG_LEVEL"
	EnvAPIAddr            = "FACTS_API_ADDR"
	EnvEnvironment        = "FACTS_ENV"

	// Standard OpenTelemetry variables.
	EnvTracesExporter  = "OTEL_TRACES_EXPORTER"
	EnvMetricsExporter = "OTEL_METRICS_EXPORTER"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// ErrInvalidConfig indicates the merged configuration failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed defaults.yaml
var defaultConfigYAML []byte

var configValidate = validator.New()

// Config is the complete configuration.
type Config struct {
	Planner   planner.Config   `yaml:"planner" json:"planner"`
	Store     StoreConfig      `yaml:"store" json:"store"`
	Rules     RulesConfig      `yaml:"rules" json:"rules"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	API       APIConfig        `yaml:"api" json:"api"`
}

// StoreConfig bounds the fact store.
type StoreConfig struct {
	MaxFacts int `yaml:"max_facts" json:"max_facts" validate:"gt=0"`
}

// RulesConfig configures the rule engine.
type RulesConfig struct {
	// Path is the default rules file. Empty means no rules unless given on
	// the command line.
	Path    string        `yaml:"path" json:"path"`
	Workers int           `yaml:"workers" json:"workers" validate:"gte=1,lte=256"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Addr            string        `yaml:"addr" json:"addr" validate:"required,hostname_port"`
	RateLimit       float64       `yaml:"rate_limit" json:"rate_limit" validate:"gt=0"`
	Burst           int           `yaml:"burst" json:"burst" validate:"gte=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// Default returns the embedded defaults.
//
// Panics if the embedded defaults do not parse, which is a build defect.
func Default() Config {
	var cfg Config
	if err := decodeStrict(defaultConfigYAML, &cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults.yaml: %v", err))
	}
	return cfg
}

// Load builds the configuration from defaults, an optional file and the
// environment.
//
// Description:
//
//	Starts from Default(), overlays the YAML file at path when path is
//	non-empty (only keys present in the file change), applies FACTS_*
//	environment overrides and validates the result.
//
// Inputs:
//
//	path - Optional YAML file. Unknown keys are rejected.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - File, parse, environment or validation errors. Validation
//	  errors wrap ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := decodeStrict(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readFile reads a config file, enforcing MaxConfigFileSize.
func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInvalidConfig, path, info.Size(), MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// decodeStrict decodes YAML onto out, rejecting unknown keys. An empty
// document leaves out unchanged.
func decodeStrict(data []byte, out *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv applies FACTS_* overrides found through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	parseFloat := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	parseInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	parseFloat(EnvSelectiveThreshold, &c.Planner.SelectiveThreshold)
	parseInt(EnvParallelThreshold, &c.Planner.ParallelThreshold)
	parseInt(EnvMaxCacheEntries, &c.Planner.MaxCacheEntries)
	parseInt(EnvRuleWorkers, &c.Rules.Workers)
	for key, dst := range map[string]*string{
		EnvLogLevel:        &c.Logging.Level,
		EnvAPIAddr:         &c.API.Addr,
		EnvEnvironment:     &c.Telemetry.Environment,
		EnvTracesExporter:  &c.Telemetry.TraceExporter,
		EnvMetricsExporter: &c.Telemetry.MetricExporter,
		EnvOTLPEndpoint:    &c.Telemetry.OTLPEndpoint,
	} {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: environment: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Planner.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// PlannerConfig returns the planner section.
func (c Config) PlannerConfig() planner.Config {
	return c.Planner
}

// LoggerConfig maps the logging section to a pkg/logging config for
// service. The level is assumed valid.
func (c Config) LoggerConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
	}
}
