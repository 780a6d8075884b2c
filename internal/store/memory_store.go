package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sunqar-kz/qoldau/internal/domain"
)

// MemorySessionStore is an in-memory session store with the same
// semantics as the SQLite implementation. Used in tests and when running
// without persistence.
type MemorySessionStore struct {
	mu       sync.RWMutex
	live     map[string]*domain.Session // user id → live session
	archived []*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{live: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) GetOrCreate(userID, channelID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.live[userID]; ok {
		return cloneSession(sess), nil
	}

	now := time.Now()
	sess := &domain.Session{
		ID:         uuid.New().String(),
		UserID:     userID,
		ChannelID:  channelID,
		State:      domain.StateNew,
		CreatedAt:  now,
		LastActive: now,
	}
	s.live[userID] = sess
	return cloneSession(sess), nil
}

func (s *MemorySessionStore) Get(userID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.live[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemorySessionStore) Update(userID string, turn domain.Turn, newState domain.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live[userID]
	if !ok {
		return ErrSessionNotFound
	}

	turn.Seq = len(sess.Turns) + 1
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	if turn.Role == "" {
		turn.Role = "user"
	}
	sess.Turns = append(sess.Turns, turn)
	sess.State = newState
	sess.LastActive = turn.At

	switch newState {
	case domain.StateResolved:
		now := time.Now()
		sess.ResolvedAt = &now
	case domain.StateActive, domain.StateNew, domain.StateAwaitingAgent:
		sess.ResolvedAt = nil
	}
	return nil
}

func (s *MemorySessionStore) Archive(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiveLocked(userID)
	return nil
}

func (s *MemorySessionStore) ExpireIdle(threshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-threshold)
	var idle []string
	for user, sess := range s.live {
		if sess.LastActive.Before(cutoff) {
			idle = append(idle, user)
		}
	}
	for _, user := range idle {
		s.archiveLocked(user)
	}
	return len(idle), nil
}

func (s *MemorySessionStore) ResolvedBefore(cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for user, sess := range s.live {
		if sess.State == domain.StateResolved && sess.ResolvedAt != nil && sess.ResolvedAt.Before(cutoff) {
			users = append(users, user)
		}
	}
	return users, nil
}

func (s *MemorySessionStore) ListActive() ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.live))
	for _, sess := range s.live {
		out = append(out, *cloneSession(sess))
	}
	return out, nil
}

func (s *MemorySessionStore) ListArchivedBetween(since, until time.Time) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Session
	for _, sess := range s.archived {
		if sess.ArchivedAt == nil || sess.ArchivedAt.Before(since) || sess.ArchivedAt.After(until) {
			continue
		}
		out = append(out, *cloneSession(sess))
	}
	return out, nil
}

// ArchivedCount reports how many sessions have been retired. Test helper.
func (s *MemorySessionStore) ArchivedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archived)
}

func (s *MemorySessionStore) archiveLocked(userID string) {
	sess, ok := s.live[userID]
	if !ok {
		return
	}
	now := time.Now()
	sess.ArchivedAt = &now
	s.archived = append(s.archived, sess)
	delete(s.live, userID)
}

func cloneSession(sess *domain.Session) *domain.Session {
	cp := *sess
	cp.Turns = append([]domain.Turn(nil), sess.Turns...)
	return &cp
}
