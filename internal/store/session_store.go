package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sunqar-kz/qoldau/internal/domain"
)

// ErrSessionNotFound is returned by Update when no live session exists for
// the user. Given GetOrCreate usage this indicates a programming error.
var ErrSessionNotFound = errors.New("session not found")

// SQLiteSessionStore persists support sessions in SQLite.
type SQLiteSessionStore struct {
	db *DB
}

// NewSQLiteSessionStore creates a session store using the given database.
func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

// GetOrCreate returns the live session for a user, creating an empty one in
// state new if none exists. Archived and closed sessions are never returned;
// a message after close lands in a fresh session.
func (s *SQLiteSessionStore) GetOrCreate(userID, channelID string) (*domain.Session, error) {
	sess, err := s.liveSession(userID)
	if err == nil {
		sess.Turns, err = s.loadTurns(sess.ID)
		return sess, err
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := time.Now()
	sess = &domain.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		ChannelID:  channelID,
		State:      domain.StateNew,
		CreatedAt:  now,
		LastActive: now,
	}

	_, err = s.db.sql.Exec(
		`INSERT INTO sessions (id, user_id, channel_id, state, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, userID, channelID, string(sess.State),
		now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", userID, err)
	}
	return sess, nil
}

// Get returns the live session for a user with its turns loaded, or
// ErrSessionNotFound.
func (s *SQLiteSessionStore) Get(userID string) (*domain.Session, error) {
	sess, err := s.liveSession(userID)
	if err != nil {
		return nil, err
	}
	sess.Turns, err = s.loadTurns(sess.ID)
	return sess, err
}

// Update atomically appends a turn and transitions the session state.
// The turn's Seq is assigned by the store; turns are append-only.
func (s *SQLiteSessionStore) Update(userID string, turn domain.Turn, newState domain.State) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var sessID string
	var state string
	err = tx.QueryRow(
		`SELECT id, state FROM sessions WHERE user_id = ? AND archived_at IS NULL`, userID,
	).Scan(&sessID, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("locating session for %s: %w", userID, err)
	}

	var seq int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`, sessID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	if turn.Role == "" {
		turn.Role = "user"
	}

	if _, err := tx.Exec(
		`INSERT INTO turns (session_id, seq, role, content, media_ref, reply, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessID, seq, turn.Role, turn.Content, turn.MediaRef, turn.Reply,
		at.Format(time.DateTime),
	); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}

	resolvedSQL := `resolved_at`
	switch newState {
	case domain.StateResolved:
		resolvedSQL = `datetime('now')`
	case domain.StateActive, domain.StateNew, domain.StateAwaitingAgent:
		resolvedSQL = `NULL`
	}
	if _, err := tx.Exec(
		`UPDATE sessions SET state = ?, last_active = ?, resolved_at = `+resolvedSQL+`
		 WHERE id = ?`,
		string(newState), at.Format(time.DateTime), sessID,
	); err != nil {
		return fmt.Errorf("transitioning session: %w", err)
	}

	return tx.Commit()
}

// Archive retires the user's live session: its transcript is copied into
// the full-text archive index and the session stops being returned by
// GetOrCreate. Archiving an already-archived user is a no-op.
func (s *SQLiteSessionStore) Archive(userID string) error {
	sess, err := s.liveSession(userID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.archiveByID(sess.ID, userID)
}

// ExpireIdle archives every live session whose last activity is older than
// threshold. Returns the number of sessions archived.
func (s *SQLiteSessionStore) ExpireIdle(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Format(time.DateTime)

	rows, err := s.db.sql.Query(
		`SELECT id, user_id FROM sessions WHERE archived_at IS NULL AND last_active < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("listing idle sessions: %w", err)
	}
	defer rows.Close()

	type idle struct{ id, user string }
	var idles []idle
	for rows.Next() {
		var i idle
		if err := rows.Scan(&i.id, &i.user); err != nil {
			continue
		}
		idles = append(idles, i)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, i := range idles {
		if err := s.archiveByID(i.id, i.user); err != nil {
			return 0, err
		}
	}
	return len(idles), nil
}

// ResolvedBefore returns the user ids of live resolved sessions whose
// resolution is older than the cutoff. The sweeper closes these out.
func (s *SQLiteSessionStore) ResolvedBefore(cutoff time.Time) ([]string, error) {
	rows, err := s.db.sql.Query(
		`SELECT user_id FROM sessions
		 WHERE archived_at IS NULL AND state = ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		string(domain.StateResolved), cutoff.Format(time.DateTime),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListActive returns all live sessions, most recently active first,
// without turns loaded.
func (s *SQLiteSessionStore) ListActive() ([]domain.Session, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, user_id, channel_id, state, created_at, last_active, resolved_at, archived_at
		 FROM sessions WHERE archived_at IS NULL ORDER BY last_active DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListArchivedBetween returns archived sessions whose archive time falls in
// [since, until), turns included. Report generation reads from here.
func (s *SQLiteSessionStore) ListArchivedBetween(since, until time.Time) ([]domain.Session, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, user_id, channel_id, state, created_at, last_active, resolved_at, archived_at
		 FROM sessions
		 WHERE archived_at IS NOT NULL AND archived_at >= ? AND archived_at < ?
		 ORDER BY archived_at DESC`,
		since.Format(time.DateTime), until.Format(time.DateTime),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Turns, err = s.loadTurns(sessions[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *SQLiteSessionStore) liveSession(userID string) (*domain.Session, error) {
	row := s.db.sql.QueryRow(
		`SELECT id, user_id, channel_id, state, created_at, last_active, resolved_at, archived_at
		 FROM sessions WHERE user_id = ? AND archived_at IS NULL`, userID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

func (s *SQLiteSessionStore) archiveByID(sessionID, userID string) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.DateTime)
	if _, err := tx.Exec(
		`UPDATE sessions SET archived_at = ? WHERE id = ? AND archived_at IS NULL`,
		now, sessionID,
	); err != nil {
		return fmt.Errorf("archiving session: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO archive_fts (content, reply, user_id, session_id, archived_at)
		 SELECT content, reply, ?, session_id, ? FROM turns WHERE session_id = ?`,
		userID, now, sessionID,
	); err != nil {
		return fmt.Errorf("indexing archived turns: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteSessionStore) loadTurns(sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.sql.Query(
		`SELECT seq, role, content, media_ref, reply, at
		 FROM turns WHERE session_id = ? ORDER BY seq`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var at string
		if err := rows.Scan(&t.Seq, &t.Role, &t.Content, &t.MediaRef, &t.Reply, &at); err != nil {
			continue
		}
		t.At, _ = time.Parse(time.DateTime, at)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var state, createdAt, lastActive string
	var resolvedAt, archivedAt sql.NullString

	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.ChannelID, &state,
		&createdAt, &lastActive, &resolvedAt, &archivedAt,
	); err != nil {
		return nil, err
	}

	sess.State = domain.State(state)
	sess.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	sess.LastActive, _ = time.Parse(time.DateTime, lastActive)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.DateTime, resolvedAt.String)
		sess.ResolvedAt = &t
	}
	if archivedAt.Valid {
		t, _ := time.Parse(time.DateTime, archivedAt.String)
		sess.ArchivedAt = &t
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}
