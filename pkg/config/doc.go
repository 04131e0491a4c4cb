// Package config provides configuration management for Ratchet.
//
// Configuration is loaded from a YAML file, decoded over the defaults, then
// overridden by environment variables and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("ratchet.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RATCHET_SECTION_FIELD:
//
//   - RATCHET_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - RATCHET_STORE_SQLITE_PATH overrides store.sqlite.path
//   - RATCHET_AGING_ENABLED overrides aging.enabled
//   - RATCHET_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Validation
//
// Every field error is collected before failing:
//
//	configuration validation failed with 2 errors:
//	  - store.backend: invalid backend "postgres" (must be sqlite or memory)
//	  - aging.schedule: invalid cron expression: ...
//
// # Hot Reload
//
// When watch is true, Watcher reloads the file on change. Only
// aging.enabled, telemetry.logging.level and server.auth.keys are applied
// to a running process. Everything else needs a restart.
//
// # Secret References
//
// server.auth.keys[].key and aging.deleter.webhook_token may be written as
// ${secret:name}. See package secrets for how names are resolved.
//
// # Example Configuration
//
//	server:
//	  listen_address: "127.0.0.1:8420"
//	  auth:
//	    enabled: true
//	    keys:
//	      - name: ops
//	        key: ${secret:ops-api-key}
//	      - name: auditor
//	        key: ${secret:auditor-api-key}
//	        read_only: true
//
//	store:
//	  backend: sqlite
//	  sqlite:
//	    path: data/policy.db
//
//	aging:
//	  enabled: true
//	  interval: 5m
//	  deleter:
//	    type: webhook
//	    webhook_url: https://array-gateway.internal/deletions
//	    webhook_token: ${secret:deleter-token}
//
//	secrets:
//	  dir: /run/secrets/ratchet
//	  watch: true
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
