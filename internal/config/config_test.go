// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@servant:example.org"
  access_token: "${TEST_MATRIX_TOKEN}"
  allowed_rooms:
    - "!a:example.org"
    - "!b:example.org"

store:
  driver: "redis"
  url: "redis://localhost:6379/0"
  lock_ttl: "2m"

completion:
  api_key: "sk-test"
  model: "gpt-4o"
  timeout: "45s"
  temperature: 0.3

delivery:
  interval: "250ms"
  max_inline: 2000

bot:
  command_prefix: "!"
  busy_notice_ttl: "3s"

tools:
  enabled: ["current_time"]
  fetch_timeout: "5s"

logging:
  level: "debug"

server:
  metrics_addr: ":9464"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "syt_secret")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "syt_secret", cfg.Matrix.AccessToken)
	assert.Equal(t, []string{"!a:example.org", "!b:example.org"}, cfg.Matrix.AllowedRooms)

	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Store.LockTTL)

	assert.Equal(t, "gpt-4o", cfg.Completion.Model)
	assert.Equal(t, 45*time.Second, cfg.Completion.Timeout)
	require.NotNil(t, cfg.Completion.Temperature)
	assert.InDelta(t, 0.3, *cfg.Completion.Temperature, 1e-9)

	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.Interval)
	assert.Equal(t, 2000, cfg.Delivery.MaxInline)
	assert.Equal(t, "!", cfg.Bot.CommandPrefix)
	assert.Equal(t, 3*time.Second, cfg.Bot.BusyNoticeTTL)
	assert.Equal(t, []string{"current_time"}, cfg.Tools.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Tools.FetchTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":9464", cfg.Server.MetricsAddr)
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-toml")

	path := writeConfig(t, "config.toml", `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@servant:example.org"
access_token = "token"

[store]
driver = "sqlite"
path = "data/servant.db"

[completion]
api_key = "${TEST_OPENAI_KEY}"

[delivery]
interval = "1s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-toml", cfg.Completion.APIKey)
	assert.Equal(t, time.Second, cfg.Delivery.Interval)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "servant.db"), cfg.Store.Path,
		"relative store paths resolve against the config file")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@servant:example.org"
  access_token: "token"
store:
  path: "/var/lib/servant/servant.db"
completion:
  api_key: "sk"
`), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Store.LockTTL)
	assert.Equal(t, "gpt-4o-mini", cfg.Completion.Model)
	assert.Equal(t, 2*time.Minute, cfg.Completion.Timeout)
	assert.Equal(t, 8, cfg.Completion.MaxRounds)
	assert.Nil(t, cfg.Completion.Temperature)
	assert.Equal(t, 500*time.Millisecond, cfg.Delivery.Interval)
	assert.Equal(t, 4000, cfg.Delivery.MaxInline)
	assert.Equal(t, "Thinking...", cfg.Delivery.Placeholder)
	assert.Equal(t, "?", cfg.Bot.CommandPrefix)
	assert.Equal(t, "servant", cfg.Bot.HistoryScope)
	assert.Equal(t, 10*time.Second, cfg.Bot.BusyNoticeTTL)
	assert.Equal(t, 15*time.Second, cfg.Tools.FetchTimeout)
	assert.Equal(t, int64(1<<20), cfg.Tools.FetchMaxBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "servant-bot", cfg.Telemetry.ServiceName)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidSyntax(t *testing.T) {
	_, err := Load(writeConfig(t, "bad.yaml", "matrix: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")

	_, err = Load(writeConfig(t, "bad.toml", "[matrix\nhomeserver ="))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestParse_InvalidDuration(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"lock ttl", "store:\n  lock_ttl: \"soon\"\n", "store.lock_ttl"},
		{"timeout", "completion:\n  timeout: \"10\"\n", "completion.timeout"},
		{"interval", "delivery:\n  interval: \"fast\"\n", "delivery.interval"},
		{"busy notice", "bot:\n  busy_notice_ttl: \"-1s\"\n", "bot.busy_notice_ttl"},
		{"fetch timeout", "tools:\n  fetch_timeout: \"x\"\n", "tools.fetch_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), FormatYAML)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func validConfig() *Config {
	cfg := &Config{
		Matrix: MatrixConfig{
			Homeserver:  "https://matrix.example.org",
			UserID:      "@servant:example.org",
			AccessToken: "token",
		},
		Store:      StoreConfig{Driver: "memory"},
		Completion: CompletionConfig{APIKey: "sk"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	temp := 3.5

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver is required"},
		{"bad homeserver", func(c *Config) { c.Matrix.Homeserver = "matrix.example.org" }, "http or https"},
		{"missing user", func(c *Config) { c.Matrix.UserID = "" }, "matrix.user_id is required"},
		{"bad user", func(c *Config) { c.Matrix.UserID = "servant" }, "not a Matrix user ID"},
		{"missing token", func(c *Config) { c.Matrix.AccessToken = "" }, "matrix.access_token"},
		{"redis without url", func(c *Config) { c.Store.Driver = "redis" }, "store.url"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite" }, "store.path"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"missing api key", func(c *Config) { c.Completion.APIKey = "" }, "completion.api_key"},
		{"temperature", func(c *Config) { c.Completion.Temperature = &temp }, "completion.temperature"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "telemetry.otlp_endpoint"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
		{"short lock ttl", func(c *Config) { c.Store.LockTTL = time.Second }, "store.lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"matrix.homeserver", "matrix.user_id", "matrix.access_token", "store.path", "completion.api_key"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_SET", "value")

	assert.Equal(t, "a value b", expandEnvVars("a ${TEST_SET} b"))
	assert.Equal(t, "a  b", expandEnvVars("a ${TEST_DEFINITELY_UNSET_VAR} b"))
	assert.Equal(t, "$TEST_SET", expandEnvVars("$TEST_SET"), "only the braced form expands")
}

func TestWriteStarter(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("SERVANT_MATRIX_TOKEN", "token")
			t.Setenv("OPENAI_API_KEY", "sk")

			path := filepath.Join(t.TempDir(), "servant", name)
			require.NoError(t, WriteStarter(path))

			cfg, err := Load(path)
			require.NoError(t, err, "starter config must load")
			assert.Equal(t, "sqlite", cfg.Store.Driver)
			assert.Equal(t, "token", cfg.Matrix.AccessToken)

			err = WriteStarter(path)
			assert.ErrorIs(t, err, ErrExists)
		})
	}
}
