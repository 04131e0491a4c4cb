package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mercator-hq/ratchet/pkg/config"
	"mercator-hq/ratchet/pkg/retention"
	"mercator-hq/ratchet/pkg/retention/aging"
	"mercator-hq/ratchet/pkg/retention/audit"
	"mercator-hq/ratchet/pkg/retention/jobs"
	"mercator-hq/ratchet/pkg/retention/store"
	"mercator-hq/ratchet/pkg/security/secrets"
)

// JobCatalog is a job source that operators can also edit. Both job
// backends implement it.
type JobCatalog interface {
	retention.JobSource
	Add(ctx context.Context, jobs ...retention.Job) error
	Remove(ctx context.Context, copyID, jobID string) error
}

// NewAuditLog creates the audit backend named by cfg.Backend.
func NewAuditLog(cfg config.AuditConfig) (retention.AuditLog, error) {
	switch cfg.Backend {
	case "memory":
		return audit.NewMemoryLog(), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		l, err := audit.NewSQLiteLog(audit.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, unsupported("audit.backend", cfg.Backend)
	}
}

// NewPolicyStore creates the policy store named by cfg.Backend. Every
// accepted mutation is appended to log.
func NewPolicyStore(cfg config.StoreConfig, log retention.AuditLog) (retention.PolicyStore, error) {
	opts := store.Options{Audit: log, OpTimeout: cfg.OpTimeout, PageSize: cfg.PageSize}
	switch cfg.Backend {
	case "memory":
		s, err := store.NewMemoryStore(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := store.NewSQLiteStore(store.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		}, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, unsupported("store.backend", cfg.Backend)
	}
}

// NewJobCatalog creates the job catalog named by cfg.Backend.
func NewJobCatalog(cfg config.JobsConfig) (JobCatalog, error) {
	switch cfg.Backend {
	case "memory":
		return jobs.NewMemorySource(), nil
	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		src, err := jobs.NewSQLiteSource(cfg.SQLite.Path, cfg.SQLite.BusyTimeout)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, unsupported("jobs.backend", cfg.Backend)
	}
}

// NewDeleter creates the deletion collaborator named by cfg.Type.
func NewDeleter(cfg config.DeleterConfig) (aging.Deleter, error) {
	switch cfg.Type {
	case "log":
		return aging.NewLogDeleter(), nil
	case "webhook":
		d, err := aging.NewWebhookDeleter(aging.WebhookConfig{
			URL:     cfg.WebhookURL,
			Timeout: cfg.Timeout,
			Token:   cfg.WebhookToken,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, unsupported("aging.deleter.type", cfg.Type)
	}
}

// NewSecretResolver creates the resolver for secret references:
// environment variables first, then files in cfg.Dir when set. The file
// provider is returned so it can be watched.
func NewSecretResolver(cfg config.SecretsConfig) (*secrets.Resolver, *secrets.FileProvider, error) {
	providers := []secrets.Provider{secrets.NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir == "" {
		return secrets.NewResolver(providers...), nil, nil
	}
	files, err := secrets.NewFileProvider(cfg.Dir)
	if err != nil {
		return nil, nil, err
	}
	return secrets.NewResolver(append(providers, files)...), files, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}
	slog.Debug("data directory ready", "dir", dir)
	return nil
}

func unsupported(field, value string) error {
	return config.FieldError{Field: field, Message: fmt.Sprintf("unsupported value %q", value)}
}
