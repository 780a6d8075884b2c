package store

import (
	"time"
)

// ArchiveHit is one full-text match over archived session transcripts.
type ArchiveHit struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	Content    string    `json:"content"`
	Reply      string    `json:"reply,omitempty"`
	ArchivedAt time.Time `json:"archivedAt"`
	Rank       float64   `json:"rank,omitempty"`
}

// ArchiveStore searches archived transcripts via SQLite FTS5. Rows are
// written by SQLiteSessionStore at archive time.
type ArchiveStore struct {
	db *DB
}

// NewArchiveStore creates an archive search store on the given database.
func NewArchiveStore(db *DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// Search finds archived turns matching the query, ranked by relevance.
// Limit of 0 defaults to 20.
func (a *ArchiveStore) Search(query string, limit int) ([]ArchiveHit, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.sql.Query(
		`SELECT session_id, user_id, content, reply, archived_at, rank
		 FROM archive_fts
		 WHERE archive_fts MATCH ?
		 ORDER BY rank
		 LIMIT ?`,
		query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ArchiveHit
	for rows.Next() {
		var h ArchiveHit
		var archivedAt string
		if err := rows.Scan(&h.SessionID, &h.UserID, &h.Content, &h.Reply, &archivedAt, &h.Rank); err != nil {
			continue
		}
		h.ArchivedAt, _ = time.Parse(time.DateTime, archivedAt)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountForUser returns how many archived turns the index holds for a user.
func (a *ArchiveStore) CountForUser(userID string) (int, error) {
	var n int
	err := a.db.sql.QueryRow(
		`SELECT COUNT(*) FROM archive_fts WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, err
}
