package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseWait != 31*time.Second {
		t.Errorf("Retry = %+v, want 3 attempts / 31s base", cfg.Retry)
	}
	if cfg.Schema.RecursionDepth != 2 || cfg.Schema.DescriptionLimit != 1024 {
		t.Errorf("Schema = %+v, want depth 2 / limit 1024", cfg.Schema)
	}
	if cfg.Auth.Strategy != "static" {
		t.Errorf("Auth.Strategy = %q, want static", cfg.Auth.Strategy)
	}
	if cfg.Workflows.Timezone != "America/Los_Angeles" {
		t.Errorf("Workflows.Timezone = %q", cfg.Workflows.Timezone)
	}
}

func TestLoad_fullFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  strategy: service_account
  email: robot@example.iam.gserviceaccount.com
  key_file: /secrets/key.pem
  scopes: ["https://example.com/auth/reports"]
discovery:
  timeout: 10s
  sources:
    - service: widgetsvc
      version: v1
      file: testdata/widgetsvc.json
retry:
  max_attempts: 5
  base_wait: 2s
classify:
  fatal_forbidden_reasons: ["forbidden", "accountDisabled", "quotaExceeded"]
schema:
  recursion_depth: 3
workflows:
  directories: ["/etc/discoflow/workflows"]
  timezone: UTC
server:
  port: 9090
observability:
  log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Strategy != "service_account" || cfg.Auth.Email == "" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if len(cfg.Discovery.Sources) != 1 || cfg.Discovery.Sources[0].Service != "widgetsvc" {
		t.Errorf("Discovery.Sources = %+v", cfg.Discovery.Sources)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseWait != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if len(cfg.Classify.FatalForbiddenReasons) != 3 {
		t.Errorf("Classify.FatalForbiddenReasons = %v", cfg.Classify.FatalForbiddenReasons)
	}
	if cfg.Schema.RecursionDepth != 3 {
		t.Errorf("Schema.RecursionDepth = %d", cfg.Schema.RecursionDepth)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", cfg.Location())
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestValidate_errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown strategy", func(c *Config) { c.Auth.Strategy = "magic" }, "auth.strategy"},
		{"service account without email", func(c *Config) {
			c.Auth.Strategy = "service_account"
			c.Auth.KeyFile = "/k.pem"
		}, "auth.email"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"zero depth", func(c *Config) { c.Schema.RecursionDepth = 0 }, "schema.recursion_depth"},
		{"bad timezone", func(c *Config) { c.Workflows.Timezone = "Mars/Olympus" }, "workflows.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DISCOFLOW_SERVER_PORT", "1234")
	t.Setenv("DISCOFLOW_OBSERVABILITY_LOG_LEVEL", "warn")
	t.Setenv("DISCOFLOW_WORKFLOWS_TIMEZONE", "UTC")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9999\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 1234 {
		t.Errorf("Server.Port = %d, want env override 1234", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.Observability.LogLevel)
	}
	if cfg.Workflows.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Workflows.Timezone)
	}
}
