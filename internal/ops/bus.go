// Package ops provides the operational surface of the bot: an in-process
// event bus for alerts and a small HTTP/WebSocket server for health,
// agent actions and reports.
package ops

import (
	"sync"
	"time"

	"github.com/sunqar-kz/qoldau/internal/logging"
)

// Event types published on the bus.
const (
	EventEscalation        = "escalation"
	EventUrgentEscalation  = "urgent_escalation"
	EventPersistenceFailed = "persistence_failed"
	EventSendFailed        = "send_failed"
	EventQueueFull         = "queue_full"
	EventSessionExpired    = "session_expired"
)

// Event is one operational occurrence worth a human's attention.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Bus fans operational events out to subscribers. Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// dispatcher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  *logging.Logger
}

// NewBus creates an event bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		log:  log.Sub("ops"),
	}
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.log.Info().
		Str("event", evt.Type).
		Str("user", evt.UserID).
		Str("detail", evt.Detail).
		Msg("operational event")

	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.log.Warn().Int("subscriber", id).Str("event", evt.Type).Msg("subscriber lagging, event dropped")
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
