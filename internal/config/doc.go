// Package config handles configuration loading for frontdesk-gateway.
//
// # Configuration File
//
// Default location:
//
//  1. Path from the FRONTDESK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/frontdesk/gateway.yaml (or ~/.config/frontdesk/gateway.yaml)
//
// Files ending in .toml are read as TOML; anything else as YAML. Both formats
// use the same keys. `frontdesk-gateway init` writes a starter file.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FRONTDESK_JWT_SECRET}"
//
// Only the ${VAR_NAME} form is expanded. Unset variables become empty strings.
// The CLI loads a .env file from the working directory first, if present.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//	  allowed_origins: []          # websocket origins; empty allows any
//	  shutdown_timeout: "5s"
//
//	database:
//	  path: "/var/lib/frontdesk/gateway.db"
//
//	auth:
//	  jwt_secret: ""               # empty disables bearer tokens; else >= 32 bytes
//	  token_ttl: "24h"
//
//	webhook:
//	  livekit_secret: "${LIVEKIT_API_SECRET}"
//	  replay_window: "10m"
//	  replay_max_keys: 10000
//
//	llm:
//	  api_key: "${GEMINI_API_KEY}" # empty skips the LLM tier
//	  model: "gemini-2.5-flash"
//	  temperature: 0.2
//	  timeout: "10s"
//	  max_history_turns: 10
//
//	notifier:
//	  queue_size: 64
//	  read_limit: 65536
//	  write_timeout: "5s"
//	  ping_interval: "30s"
//
//	ratelimit:
//	  requests_per_minute: 60      # 0 disables
//	  burst: 0                     # defaults to requests_per_minute
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax and must not be negative.
package config
