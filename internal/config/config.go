// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Auth          AuthConfig          `yaml:"auth"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Retry         RetryConfig         `yaml:"retry"`
	Classify      ClassifyConfig      `yaml:"classify"`
	Schema        SchemaConfig        `yaml:"schema"`
	Workflows     WorkflowsConfig     `yaml:"workflows"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// AuthConfig describes how outbound-call credentials are obtained.
type AuthConfig struct {
	// Strategy is "static" (fixed bearer token) or "service_account".
	Strategy      string   `yaml:"strategy"`
	Token         string   `yaml:"token"`
	TokenEnv      string   `yaml:"token_env"`
	Email         string   `yaml:"email"`
	KeyFile       string   `yaml:"key_file"`
	Scopes        []string `yaml:"scopes"`
	TokenEndpoint string   `yaml:"token_endpoint"`
}

// DiscoveryConfig describes where interface documents come from.
type DiscoveryConfig struct {
	// Endpoint is a template with two placeholders: service and version.
	Endpoint string           `yaml:"endpoint"`
	Timeout  time.Duration    `yaml:"timeout"`
	Sources  []DocumentSource `yaml:"sources"`
}

// DocumentSource maps a service and version to a local document file.
type DocumentSource struct {
	Service string `yaml:"service"`
	Version string `yaml:"version"`
	File    string `yaml:"file"`
}

// RetryConfig describes the retry budget and backoff for remote calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseWait    time.Duration `yaml:"base_wait"`
}

// ClassifyConfig describes which 403 categories are treated as fatal.
// The reason strings are product specific, so the sets are configurable.
type ClassifyConfig struct {
	FatalForbiddenStatuses []string `yaml:"fatal_forbidden_statuses"`
	FatalForbiddenReasons  []string `yaml:"fatal_forbidden_reasons"`
}

// SchemaConfig describes type-graph walker settings.
type SchemaConfig struct {
	RecursionDepth   int `yaml:"recursion_depth"`
	DescriptionLimit int `yaml:"description_limit"`
}

// WorkflowsConfig describes where workflow definitions live and how the
// scheduler gates them.
type WorkflowsConfig struct {
	Directories []string `yaml:"directories"`
	Timezone    string   `yaml:"timezone"`

	// HistoryURL selects a PostgreSQL run history when set; runs are
	// kept in memory otherwise. HistoryKeep bounds how long finished
	// runs are retained.
	HistoryURL  string        `yaml:"history_url"`
	HistoryKeep time.Duration `yaml:"history_keep"`
}

// ServerConfig describes the admin HTTP server used in serve mode.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Auth: AuthConfig{
			Strategy: "static",
			TokenEnv: "DISCOFLOW_TOKEN",
		},
		Discovery: DiscoveryConfig{
			Timeout: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseWait:    31 * time.Second,
		},
		Schema: SchemaConfig{
			RecursionDepth:   2,
			DescriptionLimit: 1024,
		},
		Workflows: WorkflowsConfig{
			Directories: []string{"workflows"},
			Timezone:    "America/Los_Angeles",
			HistoryKeep: 30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Auth.Strategy {
	case "static":
		// token may arrive via env at runtime
	case "service_account":
		if c.Auth.Email == "" {
			errs = append(errs, "auth.email is required for service_account")
		}
		if c.Auth.KeyFile == "" {
			errs = append(errs, "auth.key_file is required for service_account")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.strategy %q is not supported (static, service_account)", c.Auth.Strategy))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Schema.RecursionDepth < 1 {
		errs = append(errs, "schema.recursion_depth must be at least 1")
	}
	if _, err := timezoneOf(c.Workflows.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("workflows.timezone: %v", err))
	}
	if c.Workflows.HistoryKeep < 0 {
		errs = append(errs, "workflows.history_keep must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func timezoneOf(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// Location returns the configured workflow timezone.
func (c *Config) Location() *time.Location {
	loc, err := timezoneOf(c.Workflows.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// applyEnvOverrides reads DISCOFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCOFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DISCOFLOW_AUTH_STRATEGY"); v != "" {
		cfg.Auth.Strategy = v
	}
	if v := os.Getenv("DISCOFLOW_DISCOVERY_ENDPOINT"); v != "" {
		cfg.Discovery.Endpoint = v
	}
	if v := os.Getenv("DISCOFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("DISCOFLOW_WORKFLOWS_TIMEZONE"); v != "" {
		cfg.Workflows.Timezone = v
	}
}
