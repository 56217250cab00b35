// Package config handles configuration loading for assistant-manager.
//
// # Overview
//
// Configuration is read once at startup from a YAML or TOML file (chosen by
// extension) with environment variable expansion. Struct tags are checked
// with go-playground/validator, then cross-field rules are applied.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ASSISTANT_MANAGER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/assistant-manager/config.yaml
//  3. ~/.config/assistant-manager/config.yaml
//
// # Environment Variable Expansion
//
//	matrix:
//	  access_token: "${ASSISTANT_MANAGER_MATRIX_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Durations use time.ParseDuration syntax. A bare integer is read as seconds:
//
//	bulk:
//	  min_delay: 3        # same as "3s"
//	health:
//	  interval: "5m"
//	  probe_timeout: "15s"
//
// # Sections
//
//	owner_id: 1                   # required, the single owner operator
//	database:
//	  driver: "sqlite"            # sqlite or mongo
//	  path: "/var/lib/assistant-manager/manager.db"
//	security:
//	  credentials_key: "..."      # base64, 32 bytes; empty stores credentials unsealed
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.org"
//	  user_id: "@manager:matrix.org"
//	  access_token: "${ASSISTANT_MANAGER_MATRIX_TOKEN}"
//	  log_room: "!audit:matrix.org"
//	  operators:
//	    "@alice:matrix.org": 1
//	audit:
//	  redis:
//	    addr: "localhost:6379"    # empty disables the sink
//	http:
//	  addr: "127.0.0.1:8090"
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
//	  file: ""                    # optional log file
package config
