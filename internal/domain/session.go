// Package domain defines the core types shared across the qoldau support bot.
package domain

import "time"

// State is the lifecycle state of a support session.
type State string

const (
	StateNew           State = "new"
	StateActive        State = "active"
	StateAwaitingAgent State = "awaiting_agent"
	StateResolved      State = "resolved"
	StateClosed        State = "closed"
)

// Valid reports whether s is a known session state.
func (s State) Valid() bool {
	switch s {
	case StateNew, StateActive, StateAwaitingAgent, StateResolved, StateClosed:
		return true
	}
	return false
}

// Terminal reports whether no transition exists out of s.
func (s State) Terminal() bool { return s == StateClosed }

// Session tracks one support conversation with a user.
// At most one non-archived session exists per user id at a time.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	ChannelID  string     `json:"channelId"`
	State      State      `json:"state"`
	Turns      []Turn     `json:"turns,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastActive time.Time  `json:"lastActive"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// Archived reports whether the session has been swept or closed out.
func (s *Session) Archived() bool { return s.ArchivedAt != nil }

// Turn is one exchange within a session: the inbound content (text or a
// transcoded-audio reference) and the bot's response. Turns are immutable
// once appended and ordered by Seq.
type Turn struct {
	Seq      int       `json:"seq"`
	Role     string    `json:"role"` // "user" or "agent"
	Content  string    `json:"content"`
	MediaRef string    `json:"mediaRef,omitempty"` // path of the normalized audio, if any
	Reply    string    `json:"reply,omitempty"`
	At       time.Time `json:"at"`
}
