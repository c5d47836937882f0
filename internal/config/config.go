// ABOUTME: Configuration loading and parsing for servant-bot
// ABOUTME: Reads YAML or TOML by extension, expands ${VAR}, parses durations, applies defaults

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete servant-bot configuration
type Config struct {
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Delivery   DeliveryConfig   `yaml:"delivery" toml:"delivery"`
	Bot        BotConfig        `yaml:"bot" toml:"bot"`
	Tools      ToolsConfig      `yaml:"tools" toml:"tools"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
}

// MatrixConfig holds the bot account and room policy
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	DeviceID     string   `yaml:"device_id" toml:"device_id"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`

	// CryptoDB enables end-to-end encryption when set.
	CryptoDB    string `yaml:"crypto_db" toml:"crypto_db"`
	PickleKey   string `yaml:"pickle_key" toml:"pickle_key"`
	RecoveryKey string `yaml:"recovery_key" toml:"recovery_key"`
}

// StoreConfig selects the KV backend shared by locks and history
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	URL    string `yaml:"url" toml:"url"`
	Path   string `yaml:"path" toml:"path"`

	LockTTL    time.Duration `yaml:"-" toml:"-"`
	LockTTLRaw string        `yaml:"lock_ttl" toml:"lock_ttl"`
}

// CompletionConfig points at an OpenAI-compatible chat completions API
type CompletionConfig struct {
	BaseURL     string   `yaml:"base_url" toml:"base_url"`
	APIKey      string   `yaml:"api_key" toml:"api_key"`
	Model       string   `yaml:"model" toml:"model"`
	Temperature *float64 `yaml:"temperature" toml:"temperature"`
	MaxRounds   int      `yaml:"max_rounds" toml:"max_rounds"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// DeliveryConfig tunes streamed message edits
type DeliveryConfig struct {
	MaxInline   int    `yaml:"max_inline" toml:"max_inline"`
	Placeholder string `yaml:"placeholder" toml:"placeholder"`

	Interval    time.Duration `yaml:"-" toml:"-"`
	IntervalRaw string        `yaml:"interval" toml:"interval"`
}

// BotConfig holds chat behaviour
type BotConfig struct {
	CommandPrefix string `yaml:"command_prefix" toml:"command_prefix"`
	// HistoryScope namespaces conversation keys, so several bots can share a store.
	HistoryScope string `yaml:"history_scope" toml:"history_scope"`
	// MaxFileBytes caps text attachments read into the conversation.
	MaxFileBytes int `yaml:"max_file_bytes" toml:"max_file_bytes"`

	BusyNoticeTTL    time.Duration `yaml:"-" toml:"-"`
	BusyNoticeTTLRaw string        `yaml:"busy_notice_ttl" toml:"busy_notice_ttl"`
}

// ToolsConfig selects built-in tools
type ToolsConfig struct {
	Enabled       []string `yaml:"enabled" toml:"enabled"`
	Timezone      string   `yaml:"timezone" toml:"timezone"`
	FetchMaxBytes int64    `yaml:"fetch_max_bytes" toml:"fetch_max_bytes"`

	FetchTimeout    time.Duration `yaml:"-" toml:"-"`
	FetchTimeoutRaw string        `yaml:"fetch_timeout" toml:"fetch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name" toml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate" toml:"sample_rate"`
	Insecure     bool    `yaml:"insecure" toml:"insecure"`
}

// ServerConfig holds listener addresses. Empty addresses disable the listener.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr" toml:"health_addr"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}

	// Relative store paths are resolved against the config file.
	if cfg.Store.Path != "" && cfg.Store.Path != ":memory:" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(filepath.Dir(path), cfg.Store.Path)
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults and validates raw configuration.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.LockTTL == 0 {
		c.Store.LockTTL = 5 * time.Minute
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "gpt-4o-mini"
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = 2 * time.Minute
	}
	if c.Completion.MaxRounds == 0 {
		c.Completion.MaxRounds = 8
	}
	if c.Delivery.Interval == 0 {
		c.Delivery.Interval = 500 * time.Millisecond
	}
	if c.Delivery.MaxInline == 0 {
		c.Delivery.MaxInline = 4000
	}
	if c.Delivery.Placeholder == "" {
		c.Delivery.Placeholder = "Thinking..."
	}
	if c.Bot.CommandPrefix == "" {
		c.Bot.CommandPrefix = "?"
	}
	if c.Bot.HistoryScope == "" {
		c.Bot.HistoryScope = "servant"
	}
	if c.Bot.BusyNoticeTTL == 0 {
		c.Bot.BusyNoticeTTL = 10 * time.Second
	}
	if c.Bot.MaxFileBytes == 0 {
		c.Bot.MaxFileBytes = 64 << 10
	}
	if c.Tools.FetchTimeout == 0 {
		c.Tools.FetchTimeout = 15 * time.Second
	}
	if c.Tools.FetchMaxBytes == 0 {
		c.Tools.FetchMaxBytes = 1 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "servant-bot"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1
	}
}

// Validate checks that all required configuration fields are present and valid.
// All failures are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	} else if u, err := url.Parse(c.Matrix.Homeserver); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("matrix.homeserver must be an http or https URL"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("matrix.user_id is required"))
	} else if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		errs = append(errs, fmt.Errorf("matrix.user_id %q is not a Matrix user ID", c.Matrix.UserID))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("matrix.access_token is required"))
	}

	switch c.Store.Driver {
	case "redis":
		if c.Store.URL == "" {
			errs = append(errs, errors.New("store.url is required for the redis driver"))
		}
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be redis, sqlite or memory", c.Store.Driver))
	}

	// Held locks are refreshed every third of the TTL.
	if c.Store.LockTTL < 3*time.Second {
		errs = append(errs, fmt.Errorf("store.lock_ttl %v must be at least 3s", c.Store.LockTTL))
	}

	if c.Completion.APIKey == "" {
		errs = append(errs, errors.New("completion.api_key is required"))
	}
	if t := c.Completion.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("completion.temperature %v must be between 0 and 2", *t))
	}
	if c.Completion.MaxRounds < 0 {
		errs = append(errs, errors.New("completion.max_rounds must not be negative"))
	}
	if c.Delivery.MaxInline < 0 {
		errs = append(errs, errors.New("delivery.max_inline must not be negative"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate %v must be between 0 and 1", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"store.lock_ttl", cfg.Store.LockTTLRaw, &cfg.Store.LockTTL},
		{"completion.timeout", cfg.Completion.TimeoutRaw, &cfg.Completion.Timeout},
		{"delivery.interval", cfg.Delivery.IntervalRaw, &cfg.Delivery.Interval},
		{"bot.busy_notice_ttl", cfg.Bot.BusyNoticeTTLRaw, &cfg.Bot.BusyNoticeTTL},
		{"tools.fetch_timeout", cfg.Tools.FetchTimeoutRaw, &cfg.Tools.FetchTimeout},
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
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
