// ABOUTME: Configuration loading and parsing for frontdesk-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete frontdesk-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Webhook   WebhookConfig   `yaml:"webhook" toml:"webhook"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Notifier  NotifierConfig  `yaml:"notifier" toml:"notifier"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// AllowedOrigins lists websocket origins; empty allows any
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds the optional bearer-token guard. An empty secret disables it.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// WebhookConfig holds inbound LiveKit webhook settings
type WebhookConfig struct {
	LiveKitSecret string `yaml:"livekit_secret" toml:"livekit_secret"`
	ReplayMaxKeys int    `yaml:"replay_max_keys" toml:"replay_max_keys"`

	ReplayWindow    time.Duration `yaml:"-" toml:"-"`
	ReplayWindowRaw string        `yaml:"replay_window" toml:"replay_window"`
}

// LLMConfig holds the optional LLM answer tier. An empty API key disables it.
type LLMConfig struct {
	APIKey          string  `yaml:"api_key" toml:"api_key"`
	Model           string  `yaml:"model" toml:"model"`
	Temperature     float32 `yaml:"temperature" toml:"temperature"`
	MaxHistoryTurns int     `yaml:"max_history_turns" toml:"max_history_turns"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// NotifierConfig tunes subscriber delivery
type NotifierConfig struct {
	QueueSize int   `yaml:"queue_size" toml:"queue_size"`
	ReadLimit int64 `yaml:"read_limit" toml:"read_limit"`

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	PingInterval    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string        `yaml:"ping_interval" toml:"ping_interval"`
}

// RateLimitConfig holds per-client limits on public endpoints. Zero disables.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults
const (
	DefaultHTTPAddr        = "127.0.0.1:8000"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultTokenTTL        = 24 * time.Hour
	DefaultReplayWindow    = 10 * time.Minute
	DefaultReplayMaxKeys   = 10_000
	DefaultLLMTimeout      = 10 * time.Second
	DefaultQueueSize       = 64
	DefaultReadLimit       = 64 * 1024
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// minSecretLength mirrors auth.MinSecretLength.
const minSecretLength = 32

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config data in the format named by ext (".toml", ".yaml", ".yml").
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envPattern matches ${VAR_NAME}.
var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Webhook.ReplayWindow == 0 {
		c.Webhook.ReplayWindow = DefaultReplayWindow
	}
	if c.Webhook.ReplayMaxKeys == 0 {
		c.Webhook.ReplayMaxKeys = DefaultReplayMaxKeys
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.Notifier.QueueSize == 0 {
		c.Notifier.QueueSize = DefaultQueueSize
	}
	if c.Notifier.ReadLimit == 0 {
		c.Notifier.ReadLimit = DefaultReadLimit
	}
	if c.Notifier.WriteTimeout == 0 {
		c.Notifier.WriteTimeout = DefaultWriteTimeout
	}
	if c.Notifier.PingInterval == 0 {
		c.Notifier.PingInterval = DefaultPingInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	if c.Webhook.ReplayMaxKeys < 0 {
		return fmt.Errorf("webhook.replay_max_keys must not be negative")
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	if c.LLM.MaxHistoryTurns < 0 {
		return fmt.Errorf("llm.max_history_turns must not be negative")
	}

	if c.Notifier.QueueSize < 0 {
		return fmt.Errorf("notifier.queue_size must not be negative")
	}

	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"webhook.replay_window", cfg.Webhook.ReplayWindowRaw, &cfg.Webhook.ReplayWindow},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"notifier.write_timeout", cfg.Notifier.WriteTimeoutRaw, &cfg.Notifier.WriteTimeout},
		{"notifier.ping_interval", cfg.Notifier.PingIntervalRaw, &cfg.Notifier.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}

// DefaultPath returns the config location: $FRONTDESK_CONFIG, else
// $XDG_CONFIG_HOME/frontdesk/gateway.yaml (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv("FRONTDESK_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "frontdesk", "gateway.yaml")
}

// Template returns a starter configuration for path's format.
func Template(path, dbPath string) []byte {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		fmt.Fprintf(&buf, tomlTemplate, dbPath)
	} else {
		fmt.Fprintf(&buf, yamlTemplate, dbPath)
	}
	return buf.Bytes()
}

const yamlTemplate = `server:
  http_addr: "127.0.0.1:8000"
  shutdown_timeout: "5s"

database:
  path: %q

auth:
  # Leave empty to run without bearer tokens
  jwt_secret: "${FRONTDESK_JWT_SECRET}"
  token_ttl: "24h"

webhook:
  livekit_secret: "${LIVEKIT_API_SECRET}"
  replay_window: "10m"

llm:
  api_key: "${GEMINI_API_KEY}"
  model: "gemini-2.5-flash"
  timeout: "10s"
  max_history_turns: 10

notifier:
  queue_size: 64
  write_timeout: "5s"
  ping_interval: "30s"

ratelimit:
  requests_per_minute: 60

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

const tomlTemplate = `[server]
http_addr = "127.0.0.1:8000"
shutdown_timeout = "5s"

[database]
path = %q

[auth]
jwt_secret = "${FRONTDESK_JWT_SECRET}"
token_ttl = "24h"

[webhook]
livekit_secret = "${LIVEKIT_API_SECRET}"
replay_window = "10m"

[llm]
api_key = "${GEMINI_API_KEY}"
model = "gemini-2.5-flash"
timeout = "10s"
max_history_turns = 10

[notifier]
queue_size = 64
write_timeout = "5s"
ping_interval = "30s"

[ratelimit]
requests_per_minute = 60

[logging]
level = "info"
format = "text"

[metrics]
enabled = true
path = "/metrics"
`
