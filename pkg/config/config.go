package config

import "time"

// Config is the root configuration structure for Ratchet.
type Config struct {
	// Server contains the admin API listener settings.
	Server ServerConfig `yaml:"server"`

	// Store selects and configures the PolicyStore backend.
	Store StoreConfig `yaml:"store"`

	// Audit selects and configures the AuditLog backend.
	Audit AuditConfig `yaml:"audit"`

	// Jobs configures the job catalog the engine reads jobs from.
	Jobs JobsConfig `yaml:"jobs"`

	// Retention contains LockManager and plan defaults.
	Retention RetentionConfig `yaml:"retention"`

	// Aging configures the periodic sweep and the deletion collaborator.
	Aging AgingConfig `yaml:"aging"`

	// Telemetry contains logging, metrics and health check settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Secrets configures where ${secret:name} references are resolved.
	Secrets SecretsConfig `yaml:"secrets"`

	// Watch reloads the configuration file when it changes. Only
	// aging.enabled, telemetry.logging.level and server.auth.keys take
	// effect without a restart.
	// Default: false
	Watch bool `yaml:"watch"`
}

// ServerConfig contains configuration for the admin HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8420"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TLS serves the admin API over HTTPS.
	TLS TLSConfig `yaml:"tls"`

	// Auth requires an API key on /api routes. Probes and metrics stay open.
	Auth AuthConfig `yaml:"auth"`
}

// TLSConfig contains the admin API certificate settings.
type TLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// CertFile and KeyFile are PEM files. They are re-read when their
	// modification time changes, so renewals need no restart.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ReloadInterval is how often the certificate files are checked.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuthConfig contains admin API authentication settings.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// Keys are the accepted API keys. A key is sent as
	// "Authorization: Bearer <key>" or in the X-API-Key header.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig is one admin API key.
type APIKeyConfig struct {
	// Name identifies the caller. It is recorded as the actor of every
	// audited operation made with this key.
	Name string `yaml:"name"`

	// Key is the secret, at least 16 characters, or a ${secret:name}
	// reference.
	Key string `yaml:"key"`

	// ReadOnly keys may only use GET, HEAD and OPTIONS.
	ReadOnly bool `yaml:"read_only"`

	Disabled bool `yaml:"disabled"`
}

// SQLiteConfig contains settings shared by the SQLite-backed components.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4 (the audit log always uses a single writer connection)
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// StoreConfig configures the PolicyStore.
type StoreConfig struct {
	// Backend is the storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains settings for the sqlite backend.
	// Default path: "data/policy.db"
	SQLite SQLiteConfig `yaml:"sqlite"`

	// OpTimeout bounds every store call.
	// Default: 5s
	OpTimeout time.Duration `yaml:"op_timeout"`

	// PageSize is the number of copies read per page when listing a plan.
	// Default: 100
	PageSize int `yaml:"page_size"`
}

// AuditConfig configures the AuditLog.
type AuditConfig struct {
	// Backend is the audit backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains settings for the sqlite backend.
	// Default path: "data/audit.db"
	SQLite SQLiteConfig `yaml:"sqlite"`

	// DefaultQueryLimit applies when a query sets no limit.
	// Default: 100
	DefaultQueryLimit int `yaml:"default_query_limit"`

	// MaxQueryLimit caps any query.
	// Default: 10000
	MaxQueryLimit int `yaml:"max_query_limit"`
}

// JobsConfig configures the job catalog.
type JobsConfig struct {
	// Backend is the job source.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains settings for the sqlite catalog.
	// Default path: "data/jobs.db"
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Coalesce shares one in-flight catalog read per copy between
	// concurrent callers.
	// Default: true
	Coalesce bool `yaml:"coalesce"`
}

// RetentionConfig contains retention policy defaults.
type RetentionConfig struct {
	// PlanDefaultDays is the Days rule given to copies created without one.
	// Default: 30
	PlanDefaultDays uint32 `yaml:"plan_default_days"`

	// CASMaxRetries is the number of compare-and-swap attempts for unpinned
	// operations before they fail with Busy.
	// Default: 3
	CASMaxRetries int `yaml:"cas_max_retries"`
}

// AgingConfig configures the AgingScheduler.
type AgingConfig struct {
	// Enabled runs scheduled sweeps. On-demand sweeps work either way.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Interval between sweeps when Schedule is empty.
	// Default: 5m
	Interval time.Duration `yaml:"interval"`

	// Schedule is an optional cron expression that replaces Interval.
	// Example: "0 3 * * *" (daily at 3 AM)
	Schedule string `yaml:"schedule"`

	// DeleteEmptyCopies lets the sweep destroy copies whose jobs have all
	// expired.
	// Default: false
	DeleteEmptyCopies bool `yaml:"delete_empty_copies"`

	// Deleter configures the physical deletion collaborator.
	Deleter DeleterConfig `yaml:"deleter"`
}

// DeleterConfig configures the physical deletion collaborator.
type DeleterConfig struct {
	// Type selects the collaborator.
	// Options: "log", "webhook"
	// Default: "log"
	Type string `yaml:"type"`

	// WebhookURL receives deletion intents when Type is "webhook".
	WebhookURL string `yaml:"webhook_url"`

	// WebhookToken is sent as a bearer token with each delivery. It may be
	// a secret reference.
	WebhookToken string `yaml:"webhook_token"`

	// Timeout bounds each webhook delivery.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`
}

// SecretsConfig configures secret reference resolution. Environment
// variables are consulted first, then files in Dir.
type SecretsConfig struct {
	// EnvPrefix is prepended to the upper-cased secret name.
	// Default: "RATCHET_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir holds one file per secret, mode 0600 or 0400. Optional.
	Dir string `yaml:"dir"`

	// Watch re-resolves API keys when files in Dir change.
	// Default: false
	Watch bool `yaml:"watch"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "ratchet"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "retention"
	Subsystem string `yaml:"subsystem"`

	// SweepDurationBuckets defines histogram buckets for sweep duration
	// (seconds).
	SweepDurationBuckets []float64 `yaml:"sweep_duration_buckets"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health/live"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/health/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
