// Package config loads the servant-bot configuration file.
//
// # Formats
//
// Files ending in .toml are read as TOML; anything else is read as YAML.
// Both use the same keys:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@servant:example.org"
//	  access_token: "${SERVANT_MATRIX_TOKEN}"
//	store:
//	  driver: "redis"
//	  url: "redis://localhost:6379/0"
//	completion:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Environment Variables
//
// ${VAR} references are replaced with the variable's value before parsing.
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration fields (store.lock_ttl, completion.timeout, delivery.interval,
// bot.busy_notice_ttl, tools.fetch_timeout) use Go duration syntax such as
// "500ms" or "5m".
//
// # Defaults and Validation
//
// Missing optional fields get defaults after parsing. Validate reports every
// problem at once, joined with errors.Join.
//
// WriteStarter writes a commented starter file for `servant-bot init`.
package config
