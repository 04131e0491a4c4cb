package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"mercator-hq/ratchet/pkg/retention"
)

// SQLiteConfig contains configuration for the SQLite policy store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 4
	MaxOpenConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:         "data/policy.db",
		MaxOpenConns: 4,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements retention.PolicyStore on SQLite.
//
// Every mutation runs in an IMMEDIATE transaction: the current row is read,
// its version compared, the change written and the audit record appended
// before commit. A failed audit append rolls the change back, and a commit
// that fails after the append is audited as rolled back.
type SQLiteStore struct {
	db        *sql.DB
	config    SQLiteConfig
	opts      Options
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewSQLiteStore opens (or creates) the policy database.
func NewSQLiteStore(cfg SQLiteConfig, opts Options) (*SQLiteStore, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("policy db path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", cfg.Path, cfg.BusyTimeout.Milliseconds())
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	s := &SQLiteStore{
		db:     db,
		config: cfg,
		opts:   opts,
		logger: slog.Default().With("component", "retention.store.sqlite"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("policy store initialized",
		"path", cfg.Path,
		"wal_mode", cfg.WALMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows) || isMissingTable(err):
		version = SchemaVersion
	default:
		return retention.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version > SchemaVersion {
		return retention.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("database schema version %d is newer than %d", version, SchemaVersion))
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return retention.NewStorageError("sqlite", "create_schema", err)
	}
	for ; version < SchemaVersion; version++ {
		if _, err := s.db.Exec(migrations[version]); err != nil {
			return retention.NewStorageError("sqlite", fmt.Sprintf("migrate_v%d", version+1), err)
		}
		s.logger.Info("policy schema migrated", "version", version+1)
	}
	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return retention.NewStorageError("sqlite", "insert_schema_version", err)
	}
	return nil
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}

// GetCopy returns the stored copy.
func (s *SQLiteStore) GetCopy(ctx context.Context, copyID string) (retention.Copy, error) {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	c, err := scanCopy(s.db.QueryRowContext(ctx, selectCopy, copyID))
	if errors.Is(err, sql.ErrNoRows) {
		return retention.Copy{}, retention.NotFound(copyID)
	}
	if err != nil {
		return retention.Copy{}, retention.NewStorageError("sqlite", "get", err)
	}
	return c, nil
}

// CreateCopy inserts c at version 1 and audits the creation.
func (s *SQLiteStore) CreateCopy(ctx context.Context, c retention.Copy, actor string) (retention.Copy, error) {
	c, err := validateNewCopy(c)
	if err != nil {
		return retention.Copy{}, err
	}

	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	c = initialState(c, s.opts.Now())
	row, err := toRow(c)
	if err != nil {
		return retention.Copy{}, retention.NewStorageError("sqlite", "create", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.Copy{}, retention.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertCopy, row.insertArgs()...); err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return retention.Copy{}, retention.Reject(retention.CodeAlreadyExists, "copy "+c.CopyID+" already exists")
		}
		return retention.Copy{}, retention.NewStorageError("sqlite", "create", err)
	}

	if err := s.commit(ctx, tx, c.CopyID, retention.OpCreateCopy, createdRecord(c, actor)); err != nil {
		return retention.Copy{}, err
	}
	return c, nil
}

// CompareAndSwap applies m if the stored version matches.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, m retention.Mutation) (uint64, error) {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, retention.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	rec, version, err := s.apply(ctx, tx, m, s.opts.Now())
	if err != nil {
		return 0, err
	}
	if err := s.commit(ctx, tx, m.CopyID, m.Operation, rec); err != nil {
		return 0, err
	}
	return version, nil
}

// CompareAndSwapAll applies every mutation in one transaction.
func (s *SQLiteStore) CompareAndSwapAll(ctx context.Context, ms []retention.Mutation) error {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	now := s.opts.Now()
	records := make([]retention.AuditRecord, 0, len(ms))
	for _, m := range ms {
		rec, _, err := s.apply(ctx, tx, m, now)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	return s.commit(ctx, tx, "", retention.OpDeletePlan, records...)
}

// commit appends the accepted records and then commits tx. The audit log
// lives outside the transaction, so a commit that fails after the append
// is followed by one rejected record per accepted one: the log never ends
// on a transition the store does not hold.
func (s *SQLiteStore) commit(ctx context.Context, tx *sql.Tx, copyID, op string, recs ...retention.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return retention.NewStorageError("sqlite", "commit", err)
	}
	if err := s.opts.Audit.Append(ctx, recs...); err != nil {
		return retention.NewAuditError(copyID, op, err)
	}
	if err := tx.Commit(); err != nil {
		s.compensate(ctx, recs, err)
		return retention.NewStorageError("sqlite", "commit", err)
	}
	return nil
}

func (s *SQLiteStore) compensate(ctx context.Context, recs []retention.AuditRecord, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OpTimeout)
	defer cancel()

	now := s.opts.Now()
	out := make([]retention.AuditRecord, len(recs))
	for i, rec := range recs {
		out[i] = rolledBackRecord(rec, now, cause)
	}
	if err := s.opts.Audit.Append(ctx, out...); err != nil {
		s.logger.Error("failed to audit rolled back transition",
			"records", len(recs), "commit_error", cause, "error", err)
	}
}

// apply performs one versioned write inside tx and returns the audit record
// describing it.
func (s *SQLiteStore) apply(ctx context.Context, tx *sql.Tx, m retention.Mutation, now time.Time) (retention.AuditRecord, uint64, error) {
	cur, err := scanCopy(tx.QueryRowContext(ctx, selectCopy, m.CopyID))
	if errors.Is(err, sql.ErrNoRows) {
		return retention.AuditRecord{}, 0, retention.NotFound(m.CopyID)
	}
	if err != nil {
		return retention.AuditRecord{}, 0, retention.NewStorageError("sqlite", "cas_read", err)
	}
	if cur.Version != m.ExpectedVersion {
		return retention.AuditRecord{}, 0, conflict(cur, m.ExpectedVersion)
	}

	if m.Delete {
		if _, err := tx.ExecContext(ctx, deleteCopy, m.CopyID, m.ExpectedVersion); err != nil {
			return retention.AuditRecord{}, 0, retention.NewStorageError("sqlite", "cas_delete", err)
		}
		return acceptedRecord(m, cur, nil, now), 0, nil
	}

	next := nextState(cur, m, now)
	row, err := toRow(next)
	if err != nil {
		return retention.AuditRecord{}, 0, retention.NewStorageError("sqlite", "cas_write", err)
	}
	res, err := tx.ExecContext(ctx, updateCopy, append(row.updateArgs(), m.CopyID, m.ExpectedVersion)...)
	if err != nil {
		return retention.AuditRecord{}, 0, retention.NewStorageError("sqlite", "cas_write", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return retention.AuditRecord{}, 0, conflict(cur, m.ExpectedVersion)
	}
	return acceptedRecord(m, cur, &next, now), next.Version, nil
}

// ListCopies yields the copies of planID ordered by copy ID using keyset
// pagination. Restarting the sequence starts again from the first copy.
func (s *SQLiteStore) ListCopies(ctx context.Context, planID string) iter.Seq2[retention.Copy, error] {
	return func(yield func(retention.Copy, error) bool) {
		after := ""
		for {
			page, err := s.page(ctx, planID, after)
			if err != nil {
				yield(retention.Copy{}, err)
				return
			}
			for _, c := range page {
				if !yield(c, nil) {
					return
				}
			}
			if len(page) < s.opts.PageSize {
				return
			}
			after = page[len(page)-1].CopyID
		}
	}
}

func (s *SQLiteStore) page(ctx context.Context, planID, after string) ([]retention.Copy, error) {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectPage, planID, after, s.opts.PageSize)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "list", err)
	}
	defer rows.Close()

	var out []retention.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, retention.NewStorageError("sqlite", "list", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "list", err)
	}
	return out, nil
}

// ListPlans returns every plan with at least one copy.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectPlans)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "list_plans", err)
	}
	defer rows.Close()

	var plans []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, retention.NewStorageError("sqlite", "list_plans", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "list_plans", err)
	}
	return plans, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return retention.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

// copyRow is the column form of a retention.Copy.
type copyRow struct {
	copyID, planID, copyType string
	kind                     string
	value                    uint32
	lockState                string
	lockedAt                 sql.NullInt64
	floorKind                sql.NullString
	floorValue               sql.NullInt64
	lockSource               sql.NullString
	extended                 string
	pruned                   string
	version                  uint64
	createdAt, updatedAt     int64
}

func toRow(c retention.Copy) (copyRow, error) {
	pruned := c.PrunedJobIDs
	if pruned == nil {
		pruned = []string{}
	}
	data, err := json.Marshal(pruned)
	if err != nil {
		return copyRow{}, err
	}
	ext := c.ExtendedRules
	if ext == nil {
		ext = []retention.ExtendedRule{}
	}
	extData, err := json.Marshal(ext)
	if err != nil {
		return copyRow{}, err
	}

	r := copyRow{
		copyID:    c.CopyID,
		planID:    c.PlanID,
		copyType:  string(c.CopyType),
		kind:      string(c.RetentionRule.Kind),
		value:     c.RetentionRule.Value,
		lockState: "unlocked",
		extended:  string(extData),
		pruned:    string(data),
		version:   c.Version,
		createdAt: c.CreatedAt.UnixNano(),
		updatedAt: c.UpdatedAt.UnixNano(),
	}
	if c.LockState.Locked {
		r.lockState = "locked"
		r.lockedAt = sql.NullInt64{Int64: c.LockState.LockedAt.UnixNano(), Valid: true}
		r.floorKind = sql.NullString{String: string(c.LockState.Floor.Kind), Valid: true}
		r.floorValue = sql.NullInt64{Int64: int64(c.LockState.Floor.Value), Valid: true}
		r.lockSource = sql.NullString{String: string(c.LockState.Source), Valid: true}
	}
	return r, nil
}

func (r copyRow) insertArgs() []any {
	return []any{
		r.copyID, r.planID, r.copyType, r.kind, r.value,
		r.lockState, r.lockedAt, r.floorKind, r.floorValue, r.lockSource,
		r.extended, r.pruned, r.version, r.createdAt, r.updatedAt,
	}
}

func (r copyRow) updateArgs() []any {
	return []any{
		r.kind, r.value,
		r.lockState, r.lockedAt, r.floorKind, r.floorValue, r.lockSource,
		r.extended, r.pruned, r.version, r.updatedAt,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCopy(row scanner) (retention.Copy, error) {
	var r copyRow
	err := row.Scan(
		&r.copyID, &r.planID, &r.copyType, &r.kind, &r.value,
		&r.lockState, &r.lockedAt, &r.floorKind, &r.floorValue, &r.lockSource,
		&r.extended, &r.pruned, &r.version, &r.createdAt, &r.updatedAt,
	)
	if err != nil {
		return retention.Copy{}, err
	}

	c := retention.Copy{
		CopyID:        r.copyID,
		PlanID:        r.planID,
		CopyType:      retention.CopyType(r.copyType),
		RetentionRule: retention.RetentionRule{Kind: retention.Kind(r.kind), Value: r.value},
		Version:       r.version,
		CreatedAt:     time.Unix(0, r.createdAt).UTC(),
		UpdatedAt:     time.Unix(0, r.updatedAt).UTC(),
	}
	if r.lockState == "locked" {
		c.LockState = retention.LockState{
			Locked:   true,
			LockedAt: time.Unix(0, r.lockedAt.Int64).UTC(),
			Floor: retention.RetentionRule{
				Kind:  retention.Kind(r.floorKind.String),
				Value: uint32(r.floorValue.Int64),
			},
			Source: retention.LockSource(r.lockSource.String),
		}
	}
	if err := json.Unmarshal([]byte(r.extended), &c.ExtendedRules); err != nil {
		return retention.Copy{}, fmt.Errorf("decode extended_rules: %w", err)
	}
	if len(c.ExtendedRules) == 0 {
		c.ExtendedRules = nil
	}
	if err := json.Unmarshal([]byte(r.pruned), &c.PrunedJobIDs); err != nil {
		return retention.Copy{}, fmt.Errorf("decode pruned_job_ids: %w", err)
	}
	if len(c.PrunedJobIDs) == 0 {
		c.PrunedJobIDs = nil
	}
	return c, nil
}
