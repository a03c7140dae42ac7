package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8008" {
		t.Fatalf("expected default listen address 0.0.0.0:8008, got %s", got)
	}
	if cfg.Lightning.BaseURL != "https://lightning.ai" {
		t.Fatalf("unexpected default base url %q", cfg.Lightning.BaseURL)
	}
	if !cfg.Lightning.WaitRunning || cfg.Lightning.PollInterval() != 2*time.Second {
		t.Fatalf("expected wait_running with 2s poll, got %+v", cfg.Lightning)
	}
	if cfg.PubSub.Enabled() {
		t.Fatalf("pubsub should be disabled without project/topic")
	}
	if cfg.Auth.Enabled {
		t.Fatalf("gateway auth should default to disabled")
	}
	if cfg.Events.PublishTerminalOnly {
		t.Fatalf("every lifecycle stage should be published by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 127.0.0.1
  port: 9090
auth:
  enabled: true
  api_key: secret
lightning:
  base_url: https://staging.lightning.ai
  web_url: https://staging.lightning.ai
  timeout_seconds: 45
  machine: A10G
  wait_running: false
  rate_limit_rps: 2.5
  rate_limit_burst: 3
events:
  enabled: true
  log_enabled: false
  buffer_size: 16
  publish_terminal_only: true
  batch:
    max_events: 4
    max_wait_ms: 50
pubsub:
  project_id: proj
  topic_name: studio-events
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9090" {
		t.Fatalf("expected 127.0.0.1:9090, got %s", cfg.Server.Addr())
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Lightning.Machine != "A10G" || cfg.Lightning.WaitRunning {
		t.Fatalf("expected lightning overrides to apply: %+v", cfg.Lightning)
	}
	if cfg.Lightning.RateLimitRPS != 2.5 || cfg.Lightning.RateLimitBurst != 3 {
		t.Fatalf("expected rate limit overrides to apply: %+v", cfg.Lightning)
	}
	if got := cfg.Lightning.Timeout(); got != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", got)
	}
	if cfg.Events.LogEnabled || cfg.Events.Batch.MaxEvents != 4 || !cfg.Events.PublishTerminalOnly {
		t.Fatalf("expected events overrides to apply: %+v", cfg.Events)
	}
	if !cfg.PubSub.Enabled() {
		t.Fatalf("expected pubsub to be enabled")
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STUDIOGW_SERVER_PORT", "7070")
	t.Setenv("STUDIOGW_LIGHTNING_MACHINE", "T4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if cfg.Lightning.Machine != "T4" {
		t.Fatalf("expected machine T4 from env, got %q", cfg.Lightning.Machine)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8008},
		Lightning: LightningConfig{
			BaseURL:        "https://lightning.ai",
			TimeoutSeconds: 30,
			WaitRunning:    true,
			PollIntervalMs: 100,
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "relative base url",
			cfg: func() Config {
				c := base
				c.Lightning.BaseURL = "lightning.ai"
				return c
			}(),
			want: "lightning.base_url",
		},
		{
			name: "relative web url",
			cfg: func() Config {
				c := base
				c.Lightning.WebURL = "/studios"
				return c
			}(),
			want: "lightning.web_url",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Lightning.TimeoutSeconds = 0
				return c
			}(),
			want: "lightning.timeout_seconds",
		},
		{
			name: "wait without poll interval",
			cfg: func() Config {
				c := base
				c.Lightning.PollIntervalMs = 0
				return c
			}(),
			want: "lightning.poll_interval_ms",
		},
		{
			name: "negative rate limit",
			cfg: func() Config {
				c := base
				c.Lightning.RateLimitRPS = -1
				return c
			}(),
			want: "lightning.rate_limit_rps",
		},
		{
			name: "negative buffer",
			cfg: func() Config {
				c := base
				c.Events.BufferSize = -1
				return c
			}(),
			want: "events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
