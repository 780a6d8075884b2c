package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				id           TEXT PRIMARY KEY,
				user_id      TEXT NOT NULL,
				channel_id   TEXT NOT NULL DEFAULT '',
				state        TEXT NOT NULL,
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				last_active  TEXT NOT NULL DEFAULT (datetime('now')),
				resolved_at  TEXT,
				archived_at  TEXT
			);

			-- at most one live session per user
			CREATE UNIQUE INDEX idx_sessions_active_user
				ON sessions (user_id) WHERE archived_at IS NULL;
			CREATE INDEX idx_sessions_archived ON sessions (archived_at);

			CREATE TABLE turns (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				seq         INTEGER NOT NULL,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				media_ref   TEXT NOT NULL DEFAULT '',
				reply       TEXT NOT NULL DEFAULT '',
				at          TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (session_id, seq)
			);

			CREATE INDEX idx_turns_session ON turns (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create archive search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE archive_fts USING fts5(
				content,
				reply,
				user_id UNINDEXED,
				session_id UNINDEXED,
				archived_at UNINDEXED
			);
		`,
	},
}
