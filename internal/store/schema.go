package store

const schema = `
-- Entries table: one row per significant file change
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    workspace_path TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    source TEXT NOT NULL DEFAULT 'filesystem',
    file_path TEXT NOT NULL,
    before_code TEXT DEFAULT '',
    after_code TEXT DEFAULT '',
    lines_added INTEGER DEFAULT 0,
    lines_removed INTEGER DEFAULT 0,
    chars_added INTEGER DEFAULT 0,
    chars_removed INTEGER DEFAULT 0,
    size_bytes INTEGER DEFAULT 0,
    diff_summary TEXT DEFAULT '',
    diff_significant INTEGER NOT NULL DEFAULT 1,
    prompt_id TEXT,
    notes TEXT DEFAULT '',
    tags TEXT DEFAULT '[]',
    expires_at INTEGER
);

-- Prompts table: captured assistant exchanges
CREATE TABLE IF NOT EXISTS prompts (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    workspace_path TEXT,
    source_origin TEXT NOT NULL,
    source_id TEXT NOT NULL,
    text TEXT NOT NULL,
    response TEXT DEFAULT '',
    metadata TEXT DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'captured',
    linked_entry_id TEXT,
    expires_at INTEGER
);

-- Events table: auxiliary activity records
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    workspace_path TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    type TEXT NOT NULL,
    details TEXT DEFAULT '{}',
    expires_at INTEGER
);

-- Meta table: miner cursors and schema version
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
CREATE INDEX IF NOT EXISTS idx_entries_file ON entries(file_path);
CREATE INDEX IF NOT EXISTS idx_entries_workspace ON entries(workspace_path);
CREATE INDEX IF NOT EXISTS idx_prompts_timestamp ON prompts(timestamp);
CREATE INDEX IF NOT EXISTS idx_prompts_status ON prompts(status);
CREATE INDEX IF NOT EXISTS idx_prompts_linked ON prompts(linked_entry_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_source ON prompts(source_origin, source_id);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// schemaVersion is bumped whenever a migration is appended below.
const schemaVersion = 1

// migrations are applied in order for databases created before the current
// schema version. Index i migrates version i+1 -> i+2; the initial schema
// is version 1.
var migrations = []string{}
