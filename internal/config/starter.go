// ABOUTME: Starter configuration written by `servant-bot init`
// ABOUTME: Refuses to overwrite an existing file

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned when the target config file already exists.
var ErrExists = errors.New("config file already exists")

const starterYAML = `# servant-bot configuration
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@servant:example.org"
  access_token: "${SERVANT_MATRIX_TOKEN}"
  allowed_rooms: []
  # crypto_db: "crypto.db"

store:
  driver: "sqlite"          # redis, sqlite or memory
  path: "servant.db"
  # url: "redis://localhost:6379/0"
  lock_ttl: "5m"

completion:
  base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o-mini"
  timeout: "2m"

delivery:
  interval: "500ms"
  max_inline: 4000
  placeholder: "Thinking..."

bot:
  command_prefix: "?"
  busy_notice_ttl: "10s"

tools:
  enabled: ["current_time", "fetch_url"]
  fetch_timeout: "15s"

logging:
  level: "info"

telemetry:
  enabled: false
  otlp_endpoint: "localhost:4318"

server:
  metrics_addr: "127.0.0.1:9464"
  health_addr: ""
`

const starterTOML = `# servant-bot configuration
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@servant:example.org"
access_token = "${SERVANT_MATRIX_TOKEN}"
allowed_rooms = []

[store]
driver = "sqlite"
path = "servant.db"
lock_ttl = "5m"

[completion]
base_url = "https://api.openai.com/v1"
api_key = "${OPENAI_API_KEY}"
model = "gpt-4o-mini"
timeout = "2m"

[delivery]
interval = "500ms"
max_inline = 4000
placeholder = "Thinking..."

[bot]
command_prefix = "?"
busy_notice_ttl = "10s"

[tools]
enabled = ["current_time", "fetch_url"]
fetch_timeout = "15s"

[logging]
level = "info"

[telemetry]
enabled = false
otlp_endpoint = "localhost:4318"

[server]
metrics_addr = "127.0.0.1:9464"
`

// Starter returns the starter file for the syntax implied by path.
func Starter(path string) []byte {
	if formatOf(path) == FormatTOML {
		return []byte(starterTOML)
	}
	return []byte(starterYAML)
}

// WriteStarter creates path with a starter configuration.
func WriteStarter(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(Starter(path)); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
