package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/ratchet/pkg/retention"
)

// SQLiteConfig configures the SQLite audit log.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default audit database configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:        "data/audit.db",
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteLog implements retention.AuditLog on SQLite.
//
// Records are only ever inserted; the schema rejects updates and deletes.
type SQLiteLog struct {
	db        *sql.DB
	insert    *sql.Stmt
	logger    *slog.Logger
	now       func() time.Time
	closeOnce sync.Once
}

// NewSQLiteLog opens (or creates) the audit database at cfg.Path.
func NewSQLiteLog(cfg SQLiteConfig) (*SQLiteLog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(FULL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLog{
		db:     db,
		logger: slog.Default().With("component", "retention.audit.sqlite"),
		now:    time.Now,
	}

	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	l.logger.Info("audit log initialized", "path", cfg.Path)
	return l, nil
}

func (l *SQLiteLog) initialize() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return retention.NewStorageError("sqlite", "create_schema", err)
	}
	if _, err := l.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return retention.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	if err := l.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return retention.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return retention.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	stmt, err := l.db.Prepare(insertRecord)
	if err != nil {
		return retention.NewStorageError("sqlite", "prepare", err)
	}
	l.insert = stmt
	return nil
}

// Append inserts recs in a single transaction.
func (l *SQLiteLog) Append(ctx context.Context, recs ...retention.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, l.insert)
	for _, rec := range recs {
		rec = prepare(rec, l.now)

		prior, err := marshalState(rec.PriorState)
		if err != nil {
			return retention.NewStorageError("sqlite", "append", err)
		}
		next, err := marshalState(rec.NewState)
		if err != nil {
			return retention.NewStorageError("sqlite", "append", err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.Timestamp.UnixNano(), rec.Actor, rec.CopyID, rec.PlanID, rec.Operation,
			prior, next, string(rec.Result), string(rec.Code), rec.Reason,
		)
		if err != nil {
			return retention.NewStorageError("sqlite", "append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return retention.NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// Query returns matching records ordered by timestamp, then insertion order.
func (l *SQLiteLog) Query(ctx context.Context, q retention.AuditQuery) ([]retention.AuditRecord, error) {
	where, args := buildWhereClause(q)
	query := selectRecords + where + " ORDER BY timestamp ASC, seq ASC"
	if q.Limit > 0 {
		// Newest q.Limit records, returned oldest first.
		query = "SELECT " + recordColumns + " FROM (SELECT seq, " + recordColumns +
			" FROM audit_records" + where + " ORDER BY timestamp DESC, seq DESC LIMIT ?)" +
			" ORDER BY timestamp ASC, seq ASC"
		args = append(args, q.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	var out []retention.AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, retention.NewStorageError("sqlite", "scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewStorageError("sqlite", "query", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (l *SQLiteLog) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return retention.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.insert != nil {
			l.insert.Close()
		}
		err = l.db.Close()
	})
	return err
}

func buildWhereClause(q retention.AuditQuery) (string, []any) {
	var conds []string
	var args []any

	if q.CopyID != "" {
		conds = append(conds, "copy_id = ?")
		args = append(args, q.CopyID)
	}
	if q.PlanID != "" {
		conds = append(conds, "plan_id = ?")
		args = append(args, q.PlanID)
	}
	if q.Operation != "" {
		conds = append(conds, "operation = ?")
		args = append(args, q.Operation)
	}
	if q.Result != "" {
		conds = append(conds, "result = ?")
		args = append(args, string(q.Result))
	}
	if !q.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.From.UnixNano())
	}
	if !q.To.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, q.To.UnixNano())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(rows *sql.Rows) (retention.AuditRecord, error) {
	var (
		rec          retention.AuditRecord
		ts           int64
		planID, code sql.NullString
		reason       sql.NullString
		prior, next  sql.NullString
		result       string
	)
	err := rows.Scan(&rec.ID, &ts, &rec.Actor, &rec.CopyID, &planID, &rec.Operation,
		&prior, &next, &result, &code, &reason)
	if err != nil {
		return rec, err
	}

	rec.Timestamp = time.Unix(0, ts).UTC()
	rec.PlanID = planID.String
	rec.Result = retention.Result(result)
	rec.Code = retention.Code(code.String)
	rec.Reason = reason.String

	if rec.PriorState, err = unmarshalState(prior); err != nil {
		return rec, err
	}
	if rec.NewState, err = unmarshalState(next); err != nil {
		return rec, err
	}
	return rec, nil
}

func marshalState(s *retention.CopyState) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalState(s sql.NullString) (*retention.CopyState, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var st retention.CopyState
	if err := json.Unmarshal([]byte(s.String), &st); err != nil {
		return nil, err
	}
	return &st, nil
}
