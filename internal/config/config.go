// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. STUDIOGW_SERVER_PORT.
const EnvPrefix = "STUDIOGW"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Lightning LightningConfig `mapstructure:"lightning"`
	Events    EventsConfig    `mapstructure:"events"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host                     string `mapstructure:"host"`
	Port                     int    `mapstructure:"port"`
	ReadHeaderTimeoutSeconds int    `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `mapstructure:"shutdown_timeout_seconds"`
}

// Addr joins host and port into a listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthConfig guards the gateway itself with a static key. It is unrelated to
// the Lightning credentials callers forward in headers.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LightningConfig points the studio client at the Lightning cloud API.
type LightningConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	WebURL         string `mapstructure:"web_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Machine        string `mapstructure:"machine"`
	WaitRunning    bool   `mapstructure:"wait_running"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	UserAgent      string `mapstructure:"user_agent"`
	// RateLimitRPS throttles operations per caller; 0 disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Timeout is the transport timeout applied to each backend call.
func (l LightningConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// PollInterval is the delay between instance status checks while waiting for a
// studio to come up.
func (l LightningConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalMs) * time.Millisecond
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	LogEnabled    bool              `mapstructure:"log_enabled"`
	BufferSize    int               `mapstructure:"buffer_size"`
	Batch         EventsBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int               `mapstructure:"sink_timeout_ms"`
	// PublishTerminalOnly limits the Pub/Sub feed to completed and failed stages.
	PublishTerminalOnly bool `mapstructure:"publish_terminal_only"`
}

// EventsBatchConfig bounds how many events are flushed together.
type EventsBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// PubSubConfig holds the topic lifecycle events are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether both project and topic are configured.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// TelemetryConfig configures OpenTelemetry resources and the trace exporter.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8008)
	v.SetDefault("server.read_header_timeout_seconds", 5)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("lightning.base_url", "https://lightning.ai")
	v.SetDefault("lightning.web_url", "https://lightning.ai")
	v.SetDefault("lightning.timeout_seconds", 30)
	v.SetDefault("lightning.machine", "CPU")
	v.SetDefault("lightning.wait_running", true)
	v.SetDefault("lightning.poll_interval_ms", 2000)
	v.SetDefault("lightning.user_agent", "studio-gateway/0.1")
	v.SetDefault("lightning.rate_limit_rps", 0)
	v.SetDefault("lightning.rate_limit_burst", 1)
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.log_enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.batch.max_events", 100)
	v.SetDefault("events.batch.max_wait_ms", 500)
	v.SetDefault("events.sink_timeout_ms", 5000)
	v.SetDefault("events.publish_terminal_only", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "studio-gateway")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := validateAbsoluteURL("lightning.base_url", c.Lightning.BaseURL); err != nil {
		return err
	}
	if c.Lightning.WebURL != "" {
		if err := validateAbsoluteURL("lightning.web_url", c.Lightning.WebURL); err != nil {
			return err
		}
	}
	if c.Lightning.TimeoutSeconds <= 0 {
		return fmt.Errorf("lightning.timeout_seconds must be > 0")
	}
	if c.Lightning.WaitRunning && c.Lightning.PollIntervalMs <= 0 {
		return fmt.Errorf("lightning.poll_interval_ms must be > 0 when wait_running is enabled")
	}
	if c.Lightning.RateLimitRPS < 0 {
		return fmt.Errorf("lightning.rate_limit_rps must be >= 0")
	}
	if c.Events.BufferSize < 0 || c.Events.Batch.MaxEvents < 0 {
		return fmt.Errorf("events buffer and batch sizes must be >= 0")
	}
	return nil
}

func validateAbsoluteURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}
