package store

// SchemaVersion is the current policy database schema version.
const SchemaVersion = 2

// Schema contains the SQL statements to create the policy database schema.
// Timestamps are stored as Unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS copies (
    copy_id TEXT PRIMARY KEY,
    plan_id TEXT NOT NULL,
    copy_type TEXT NOT NULL,

    -- Active retention rule
    retention_kind TEXT NOT NULL,
    retention_value INTEGER NOT NULL,

    -- Compliance lock; locked_at and floor_* are NULL while unlocked
    lock_state TEXT NOT NULL DEFAULT 'unlocked',
    locked_at INTEGER,
    floor_kind TEXT,
    floor_value INTEGER,
    lock_source TEXT,

    -- JSON array of extended retention rules
    extended_rules TEXT NOT NULL DEFAULT '[]',

    -- JSON array of job IDs already deleted from the copy
    pruned_job_ids TEXT NOT NULL DEFAULT '[]',

    version INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_copies_plan ON copies(plan_id, copy_id);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// migrations upgrade a database from the keyed version to the next one.
var migrations = map[int]string{
	1: `
ALTER TABLE copies ADD COLUMN lock_source TEXT;
ALTER TABLE copies ADD COLUMN extended_rules TEXT NOT NULL DEFAULT '[]';
UPDATE copies SET lock_source = 'copy' WHERE lock_state = 'locked';
`,
}

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, strftime('%s', 'now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion returns the newest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const copyColumns = `
    copy_id, plan_id, copy_type, retention_kind, retention_value,
    lock_state, locked_at, floor_kind, floor_value, lock_source,
    extended_rules, pruned_job_ids, version, created_at, updated_at
`

const selectCopy = `SELECT ` + copyColumns + ` FROM copies WHERE copy_id = ?`

const selectPage = `SELECT ` + copyColumns + `
FROM copies
WHERE plan_id = ? AND copy_id > ?
ORDER BY copy_id ASC
LIMIT ?`

const insertCopy = `INSERT INTO copies (` + copyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// updateCopy only touches the row if it is still at the expected version.
const updateCopy = `
UPDATE copies SET
    retention_kind = ?, retention_value = ?,
    lock_state = ?, locked_at = ?, floor_kind = ?, floor_value = ?, lock_source = ?,
    extended_rules = ?, pruned_job_ids = ?, version = ?, updated_at = ?
WHERE copy_id = ? AND version = ?`

const deleteCopy = `DELETE FROM copies WHERE copy_id = ? AND version = ?`

const selectPlans = `SELECT DISTINCT plan_id FROM copies ORDER BY plan_id ASC`
