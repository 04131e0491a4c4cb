package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/ratchet/pkg/retention"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT NOT NULL,
    copy_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    cycle_number INTEGER NOT NULL,
    is_full BOOLEAN NOT NULL,
    PRIMARY KEY (copy_id, job_id)
);
`

// SQLiteSource reads jobs from a SQLite job catalog.
//
// The catalog is normally written by the backup pipeline; Add and Remove
// exist for operators and tests.
type SQLiteSource struct {
	db        *sql.DB
	listStmt  *sql.Stmt
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewSQLiteSource opens the job catalog at path, creating the table if needed.
func NewSQLiteSource(path string, busyTimeout time.Duration) (*SQLiteSource, error) {
	if path == "" {
		return nil, fmt.Errorf("job catalog path cannot be empty")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeout.Milliseconds()))
	if err != nil {
		return nil, retention.NewStorageError("sqlite", "open", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, retention.NewStorageError("sqlite", "create_schema", err)
	}

	stmt, err := db.Prepare(`
		SELECT job_id, copy_id, created_at, cycle_number, is_full
		FROM jobs WHERE copy_id = ?
		ORDER BY cycle_number ASC, created_at ASC`)
	if err != nil {
		db.Close()
		return nil, retention.NewStorageError("sqlite", "prepare", err)
	}

	s := &SQLiteSource{
		db:       db,
		listStmt: stmt,
		logger:   slog.Default().With("component", "retention.jobs.sqlite"),
	}
	s.logger.Info("job catalog opened", "path", path)
	return s, nil
}

// Jobs returns the jobs of copyID.
func (s *SQLiteSource) Jobs(ctx context.Context, copyID string) ([]retention.Job, error) {
	rows, err := s.listStmt.QueryContext(ctx, copyID)
	if err != nil {
		return nil, retention.NewCollaboratorError("job_source", copyID, err)
	}
	defer rows.Close()

	var out []retention.Job
	for rows.Next() {
		var (
			j       retention.Job
			created int64
		)
		if err := rows.Scan(&j.JobID, &j.CopyID, &created, &j.CycleNumber, &j.IsFull); err != nil {
			return nil, retention.NewCollaboratorError("job_source", copyID, err)
		}
		j.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, retention.NewCollaboratorError("job_source", copyID, err)
	}
	return out, nil
}

// Add upserts jobs into the catalog.
func (s *SQLiteSource) Add(ctx context.Context, jobs ...retention.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return retention.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	for _, j := range jobs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (job_id, copy_id, created_at, cycle_number, is_full)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (copy_id, job_id) DO UPDATE SET
				created_at = excluded.created_at,
				cycle_number = excluded.cycle_number,
				is_full = excluded.is_full`,
			j.JobID, j.CopyID, j.CreatedAt.UnixNano(), j.CycleNumber, j.IsFull)
		if err != nil {
			return retention.NewStorageError("sqlite", "add_job", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return retention.NewStorageError("sqlite", "commit", err)
	}
	return nil
}

// Remove deletes a job from the catalog.
func (s *SQLiteSource) Remove(ctx context.Context, copyID, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE copy_id = ? AND job_id = ?`, copyID, jobID); err != nil {
		return retention.NewStorageError("sqlite", "remove_job", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the catalog.
func (s *SQLiteSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.listStmt.Close()
		err = s.db.Close()
	})
	return err
}
