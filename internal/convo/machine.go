package convo

import (
	"time"

	"github.com/sunqar-kz/qoldau/internal/domain"
)

// Result is the outcome of stepping the machine for one inbound turn.
type Result struct {
	Next  domain.State
	Reply string
	// Queued is set when the input is recorded without a reply
	// (unclassifiable content while an agent holds the session).
	Queued bool
	// Reopened is set when a resolved session returned to active.
	Reopened bool
}

// Machine evaluates state transitions for support sessions.
// Transitions are pure functions of (state, kind); the only clock input
// is the resolve grace window.
type Machine struct {
	// GraceWindow is how long after resolution a user message reopens
	// the session instead of starting a fresh one.
	GraceWindow time.Duration
}

// NewMachine returns a machine with the given reopen grace window.
func NewMachine(grace time.Duration) *Machine {
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Machine{GraceWindow: grace}
}

// Step computes the transition for inbound content of the given kind.
// resolvedAt is consulted only in StateResolved; zero means unknown and
// is treated as within the grace window.
func (m *Machine) Step(state domain.State, kind Kind, resolvedAt time.Time) Result {
	switch state {
	case domain.StateNew:
		return m.stepNew(kind)
	case domain.StateActive:
		return m.stepActive(kind)
	case domain.StateAwaitingAgent:
		return m.stepAwaiting(kind)
	case domain.StateResolved:
		return m.stepResolved(kind, resolvedAt)
	case domain.StateClosed:
		// Terminal. The dispatcher never routes into a closed session;
		// a message after close starts a new session in StateNew.
		return Result{Next: domain.StateClosed, Queued: true}
	default:
		return Result{Next: state, Reply: ReplyClarify}
	}
}

func (m *Machine) stepNew(kind Kind) Result {
	switch kind {
	case KindGreeting:
		return Result{Next: domain.StateActive, Reply: ReplyGreeting}
	case KindQuestion:
		return Result{Next: domain.StateActive, Reply: ReplyQuestionAck}
	case KindEscalation:
		return Result{Next: domain.StateAwaitingAgent, Reply: ReplyEscalated}
	case KindClosing:
		return Result{Next: domain.StateClosed, Reply: ReplyGoodbye}
	default:
		return Result{Next: domain.StateNew, Reply: ReplyClarify}
	}
}

func (m *Machine) stepActive(kind Kind) Result {
	switch kind {
	case KindGreeting:
		return Result{Next: domain.StateActive, Reply: ReplyGreetingAgain}
	case KindQuestion:
		return Result{Next: domain.StateActive, Reply: ReplyQuestionAck}
	case KindEscalation:
		return Result{Next: domain.StateAwaitingAgent, Reply: ReplyEscalated}
	case KindClosing:
		return Result{Next: domain.StateClosed, Reply: ReplyGoodbye}
	default:
		return Result{Next: domain.StateActive, Reply: ReplyClarify}
	}
}

func (m *Machine) stepAwaiting(kind Kind) Result {
	switch kind {
	case KindClosing:
		return Result{Next: domain.StateClosed, Reply: ReplyGoodbye}
	case KindUnclassifiable:
		// Held for the agent; no automated reply while they own the session.
		return Result{Next: domain.StateAwaitingAgent, Queued: true}
	default:
		return Result{Next: domain.StateAwaitingAgent, Reply: ReplyStillWaiting}
	}
}

func (m *Machine) stepResolved(kind Kind, resolvedAt time.Time) Result {
	withinGrace := resolvedAt.IsZero() || time.Since(resolvedAt) <= m.GraceWindow
	if !withinGrace {
		// Grace lapsed: the dispatcher closes this session out and the
		// message lands in a fresh one.
		return Result{Next: domain.StateClosed, Queued: true}
	}
	switch kind {
	case KindClosing:
		return Result{Next: domain.StateClosed, Reply: ReplyGoodbye}
	case KindUnclassifiable:
		return Result{Next: domain.StateResolved, Reply: ReplyClarify}
	default:
		return Result{Next: domain.StateActive, Reply: ReplyReopened, Reopened: true}
	}
}

// AgentReply is the transition applied when a human agent answers an
// escalated session.
func (m *Machine) AgentReply(state domain.State) (domain.State, bool) {
	if state == domain.StateAwaitingAgent {
		return domain.StateActive, true
	}
	return state, false
}

// Resolve is the transition applied when an agent marks the session
// resolved. Valid from active and awaiting-agent.
func (m *Machine) Resolve(state domain.State) (domain.State, bool) {
	switch state {
	case domain.StateActive, domain.StateAwaitingAgent, domain.StateNew:
		return domain.StateResolved, true
	}
	return state, false
}
