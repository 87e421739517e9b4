package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the journal tables and indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS journal (
    id TEXT PRIMARY KEY,
    connection_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,

    time_ns INTEGER NOT NULL,
    duration_us INTEGER NOT NULL,

    client_id TEXT NOT NULL,
    method TEXT,
    path TEXT,
    target TEXT,

    admission TEXT NOT NULL,
    rule_action TEXT,
    rule_root TEXT,
    rule_token TEXT,

    kind TEXT NOT NULL,
    status INTEGER NOT NULL,
    bytes INTEGER NOT NULL,

    worker_id TEXT,
    worker_exit INTEGER,
    error TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_time ON journal(time_ns);
CREATE INDEX IF NOT EXISTS idx_journal_client_id ON journal(client_id);
CREATE INDEX IF NOT EXISTS idx_journal_status ON journal(status);
`

// InsertSchemaVersion records the schema version once.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the newest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const columns = `id, connection_id, sequence, time_ns, duration_us,
	client_id, method, path, target,
	admission, rule_action, rule_root, rule_token,
	kind, status, bytes,
	worker_id, worker_exit, error`
