package config

import (
	"fmt"
	"net/url"
	"strings"

	"mercator-hq/ratchet/pkg/security/secrets"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration. All field errors are
// collected and returned together as a ValidationError.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateBackend("store", cfg.Store.Backend, &cfg.Store.SQLite)...)
	errs = append(errs, validateBackend("audit", cfg.Audit.Backend, &cfg.Audit.SQLite)...)
	errs = append(errs, validateBackend("jobs", cfg.Jobs.Backend, &cfg.Jobs.SQLite)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateAging(&cfg.Aging)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_header_bytes",
			Message: "max header bytes must be non-negative",
		})
	}
	errs = append(errs, validateTLS(&cfg.TLS)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	return errs
}

func validateTLS(cfg *TLSConfig) []FieldError {
	var errs []FieldError

	if cfg.MinVersion != "1.2" && cfg.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (use 1.2 or 1.3)", cfg.MinVersion),
		})
	}
	if cfg.ReloadInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "server.tls.reload_interval",
			Message: "reload interval must be positive",
		})
	}
	if !cfg.Enabled {
		return errs
	}
	if cfg.CertFile == "" {
		errs = append(errs, FieldError{
			Field:   "server.tls.cert_file",
			Message: "certificate file is required when TLS is enabled",
		})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{
			Field:   "server.tls.key_file",
			Message: "key file is required when TLS is enabled",
		})
	}
	return errs
}

func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && len(cfg.Keys) == 0 {
		errs = append(errs, FieldError{
			Field:   "server.auth.keys",
			Message: "at least one key is required when auth is enabled",
		})
	}

	names := make(map[string]bool, len(cfg.Keys))
	keys := make(map[string]bool, len(cfg.Keys))
	for i, k := range cfg.Keys {
		field := fmt.Sprintf("server.auth.keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		} else if names[k.Name] {
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate name %q", k.Name)})
		}
		names[k.Name] = true

		switch {
		case secrets.IsRef(k.Key):
			// Length is checked once the reference is resolved.
		case len(k.Key) < MinAPIKeyLength:
			errs = append(errs, FieldError{
				Field:   field + ".key",
				Message: fmt.Sprintf("key must be at least %d characters", MinAPIKeyLength),
			})
		case keys[k.Key]:
			errs = append(errs, FieldError{Field: field + ".key", Message: "key is used by another entry"})
		}
		keys[k.Key] = true
	}
	return errs
}

func validateSecrets(cfg *SecretsConfig) []FieldError {
	if cfg.Watch && cfg.Dir == "" {
		return []FieldError{{Field: "secrets.watch", Message: "watch requires secrets.dir"}}
	}
	return nil
}

func validateBackend(section, backend string, sqlite *SQLiteConfig) []FieldError {
	var errs []FieldError

	switch backend {
	case "memory":
	case "sqlite":
		if sqlite.Path == "" {
			errs = append(errs, FieldError{
				Field:   section + ".sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if sqlite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   section + ".sqlite.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
		if sqlite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   section + ".sqlite.busy_timeout",
				Message: "busy timeout must be positive",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   section + ".backend",
			Message: fmt.Sprintf("invalid backend %q (must be sqlite or memory)", backend),
		})
	}
	return errs
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	if cfg.OpTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "store.op_timeout",
			Message: "operation timeout must be positive",
		})
	}
	if cfg.PageSize < 0 {
		errs = append(errs, FieldError{
			Field:   "store.page_size",
			Message: "page size must be non-negative",
		})
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultQueryLimit < 0 || cfg.MaxQueryLimit < 0 {
		errs = append(errs, FieldError{
			Field:   "audit.max_query_limit",
			Message: "query limits must be non-negative",
		})
	}
	if cfg.MaxQueryLimit > 0 && cfg.DefaultQueryLimit > cfg.MaxQueryLimit {
		errs = append(errs, FieldError{
			Field:   "audit.default_query_limit",
			Message: fmt.Sprintf("default query limit %d exceeds max query limit %d", cfg.DefaultQueryLimit, cfg.MaxQueryLimit),
		})
	}
	return errs
}

func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.CASMaxRetries < 0 {
		errs = append(errs, FieldError{
			Field:   "retention.cas_max_retries",
			Message: "max retries must be non-negative",
		})
	}
	return errs
}

func validateAging(cfg *AgingConfig) []FieldError {
	var errs []FieldError

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "aging.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	} else if cfg.Interval < MinAgingInterval {
		errs = append(errs, FieldError{
			Field:   "aging.interval",
			Message: fmt.Sprintf("interval must be at least %s", MinAgingInterval),
		})
	}

	switch cfg.Deleter.Type {
	case "log":
	case "webhook":
		u, err := url.Parse(cfg.Deleter.WebhookURL)
		if cfg.Deleter.WebhookURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "aging.deleter.webhook_url",
				Message: "an absolute http(s) URL is required for the webhook deleter",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "aging.deleter.type",
			Message: fmt.Sprintf("invalid deleter type %q (must be log or webhook)", cfg.Deleter.Type),
		})
	}
	if cfg.Deleter.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "aging.deleter.timeout",
			Message: "timeout must be positive",
		})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text, or console)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}
	for i := 1; i < len(cfg.Metrics.SweepDurationBuckets); i++ {
		if cfg.Metrics.SweepDurationBuckets[i] <= cfg.Metrics.SweepDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.sweep_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if cfg.Health.Enabled {
		if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.liveness_path",
				Message: "liveness path must start with /",
			})
		}
		if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.readiness_path",
				Message: "readiness path must start with /",
			})
		}
	}
	if cfg.Health.CheckTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}
	return errs
}
