package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8420"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultTLSMinVersion   = "1.3"
	DefaultTLSReload       = 5 * time.Minute
	MinAPIKeyLength        = 16

	// Storage defaults
	DefaultBackend            = "sqlite"
	DefaultStoreSQLitePath    = "data/policy.db"
	DefaultAuditSQLitePath    = "data/audit.db"
	DefaultJobsSQLitePath     = "data/jobs.db"
	DefaultSQLiteMaxOpenConns = 4
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultStoreOpTimeout     = 5 * time.Second
	DefaultStorePageSize      = 100
	DefaultAuditQueryLimit    = 100
	DefaultAuditMaxQueryLimit = 10000
	DefaultJobsCoalesce       = true

	// Retention defaults
	DefaultPlanDays      = uint32(30)
	DefaultCASMaxRetries = 3

	// Aging defaults
	DefaultAgingEnabled      = true
	DefaultAgingInterval     = 5 * time.Minute
	MinAgingInterval         = time.Second
	DefaultDeleterType       = "log"
	DefaultDeleterTimeout    = 30 * time.Second
	DefaultDeleteEmptyCopies = false

	// Secrets defaults
	DefaultSecretsEnvPrefix = "RATCHET_SECRET_"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "ratchet"
	DefaultMetricsSubsystem   = "retention"
	DefaultHealthEnabled      = true
	DefaultLivenessPath       = "/health/live"
	DefaultReadinessPath      = "/health/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// DefaultSweepDurationBuckets covers sweeps from 10ms to 10 minutes.
var DefaultSweepDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600}

// Default returns a configuration with every default applied, including
// the boolean defaults that ApplyDefaults cannot infer from zero values.
// LoadConfig decodes YAML on top of it.
func Default() *Config {
	cfg := &Config{
		Store: StoreConfig{SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode}},
		Audit: AuditConfig{SQLite: SQLiteConfig{WALMode: DefaultSQLiteWALMode}},
		Jobs: JobsConfig{
			SQLite:   SQLiteConfig{WALMode: DefaultSQLiteWALMode},
			Coalesce: DefaultJobsCoalesce,
		},
		Aging: AgingConfig{
			Enabled:           DefaultAgingEnabled,
			DeleteEmptyCopies: DefaultDeleteEmptyCopies,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Health:  HealthConfig{Enabled: DefaultHealthEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued, non-boolean field with its default.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = DefaultBackend
	}
	applySQLiteDefaults(&cfg.Store.SQLite, DefaultStoreSQLitePath)
	if cfg.Store.OpTimeout == 0 {
		cfg.Store.OpTimeout = DefaultStoreOpTimeout
	}
	if cfg.Store.PageSize == 0 {
		cfg.Store.PageSize = DefaultStorePageSize
	}

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultBackend
	}
	applySQLiteDefaults(&cfg.Audit.SQLite, DefaultAuditSQLitePath)
	if cfg.Audit.DefaultQueryLimit == 0 {
		cfg.Audit.DefaultQueryLimit = DefaultAuditQueryLimit
	}
	if cfg.Audit.MaxQueryLimit == 0 {
		cfg.Audit.MaxQueryLimit = DefaultAuditMaxQueryLimit
	}

	// Jobs defaults
	if cfg.Jobs.Backend == "" {
		cfg.Jobs.Backend = DefaultBackend
	}
	applySQLiteDefaults(&cfg.Jobs.SQLite, DefaultJobsSQLitePath)

	// Retention defaults
	if cfg.Retention.PlanDefaultDays == 0 {
		cfg.Retention.PlanDefaultDays = DefaultPlanDays
	}
	if cfg.Retention.CASMaxRetries == 0 {
		cfg.Retention.CASMaxRetries = DefaultCASMaxRetries
	}

	// Aging defaults
	if cfg.Aging.Interval == 0 {
		cfg.Aging.Interval = DefaultAgingInterval
	}
	if cfg.Aging.Deleter.Type == "" {
		cfg.Aging.Deleter.Type = DefaultDeleterType
	}
	if cfg.Aging.Deleter.Timeout == 0 {
		cfg.Aging.Deleter.Timeout = DefaultDeleterTimeout
	}

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.SweepDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.SweepDurationBuckets = append([]float64(nil), DefaultSweepDurationBuckets...)
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func applySQLiteDefaults(cfg *SQLiteConfig, path string) {
	if cfg.Path == "" {
		cfg.Path = path
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultSQLiteBusyTimeout
	}
}
