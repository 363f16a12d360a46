package store

// metaSchema defines the process-wide metadata database: tenants plus the
// cross-session tables. Every session-scoped table carries user_id so reads
// can be pinned to one tenant.
const metaSchema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	encrypted_key TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	memory_session_id  TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL REFERENCES users(user_id),
	content_session_id TEXT NOT NULL,
	project            TEXT NOT NULL DEFAULT '',
	started_at         TEXT NOT NULL,
	ended_at           TEXT,
	status             TEXT NOT NULL DEFAULT 'active',
	summary            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS events (
	event_id          TEXT PRIMARY KEY,
	memory_session_id TEXT NOT NULL REFERENCES sessions(memory_session_id),
	user_id           TEXT NOT NULL,
	kind              TEXT NOT NULL,
	payload           TEXT NOT NULL,
	timestamp         TEXT NOT NULL,
	seq               INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(memory_session_id, seq);

CREATE TABLE IF NOT EXISTS observations (
	observation_id    TEXT PRIMARY KEY,
	memory_session_id TEXT NOT NULL REFERENCES sessions(memory_session_id),
	user_id           TEXT NOT NULL,
	category          TEXT NOT NULL,
	text              TEXT NOT NULL,
	evidence          TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(memory_session_id);
`

// unitSchema defines the per-tenant unit table plus the FTS5 lexical index.
// The embedding blob is kept alongside the row so crash recovery can replay
// vector-index writes without re-embedding.
const unitSchema = `
CREATE TABLE IF NOT EXISTS units (
	id                TEXT PRIMARY KEY,
	text              TEXT NOT NULL,
	kind              TEXT NOT NULL,
	children          TEXT NOT NULL DEFAULT '[]',
	tokens            TEXT NOT NULL DEFAULT '[]',
	embedding         BLOB,
	ts_utc            TEXT NOT NULL,
	entities          TEXT NOT NULL DEFAULT '[]',
	persons           TEXT NOT NULL DEFAULT '[]',
	source_session_id TEXT NOT NULL DEFAULT '',
	source_event_ids  TEXT NOT NULL DEFAULT '[]',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	last_accessed_at  TEXT,
	score_decay       REAL NOT NULL DEFAULT 1.0,
	tombstoned        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_units_ts ON units(ts_utc);

CREATE VIRTUAL TABLE IF NOT EXISTS units_fts USING fts5(
	unit_id UNINDEXED,
	tokens
);
`
