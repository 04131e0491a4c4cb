package audit

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema creates the audit tables. Triggers reject every UPDATE and DELETE
// so the table stays append-only even for direct SQL access.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    timestamp INTEGER NOT NULL,
    actor TEXT NOT NULL,
    copy_id TEXT NOT NULL,
    plan_id TEXT,
    operation TEXT NOT NULL,
    prior_state TEXT,
    new_state TEXT,
    result TEXT NOT NULL,
    code TEXT,
    reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_copy_time ON audit_records(copy_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_plan ON audit_records(plan_id);

CREATE TRIGGER IF NOT EXISTS audit_records_no_update
BEFORE UPDATE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_records_no_delete
BEFORE DELETE ON audit_records
BEGIN
    SELECT RAISE(ABORT, 'audit records are append-only');
END;

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

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

const insertRecord = `
INSERT INTO audit_records (
    id, timestamp, actor, copy_id, plan_id, operation,
    prior_state, new_state, result, code, reason
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const recordColumns = `id, timestamp, actor, copy_id, plan_id, operation,
       prior_state, new_state, result, code, reason`

const selectRecords = "SELECT " + recordColumns + " FROM audit_records"
