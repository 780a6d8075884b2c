package channel

import (
	"context"
	"sync"

	"github.com/sunqar-kz/qoldau/internal/domain"
)

// Loopback is an in-process channel: events are injected with Inject and
// replies accumulate in memory. It backs the dev serve mode and tests.
type Loopback struct {
	id string

	mu      sync.Mutex
	handler func(domain.InboundEvent)
	sent    []domain.OutboundReply
	running bool
}

// NewLoopback creates a loopback channel with the given id.
func NewLoopback(id string) *Loopback {
	if id == "" {
		id = "loopback"
	}
	return &Loopback{id: id}
}

func (l *Loopback) ID() string { return l.id }

func (l *Loopback) Start(ctx context.Context) error {
	l.mu.Lock()
	l.running = true
	l.mu.Unlock()
	<-ctx.Done()
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Send(ctx context.Context, reply domain.OutboundReply) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, reply)
	return nil
}

func (l *Loopback) OnEvent(handler func(domain.InboundEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// Status reports the channel runtime state.
func (l *Loopback) Status() domain.ChannelStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.ChannelStatus{ChannelID: l.id, Connected: l.running, Running: l.running}
}

// Inject delivers an event as if it arrived from the platform.
func (l *Loopback) Inject(evt domain.InboundEvent) {
	l.mu.Lock()
	handler := l.handler
	l.mu.Unlock()
	if evt.ChannelID == "" {
		evt.ChannelID = l.id
	}
	if handler != nil {
		handler(evt)
	}
}

// Sent returns a copy of the replies delivered so far.
func (l *Loopback) Sent() []domain.OutboundReply {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.OutboundReply, len(l.sent))
	copy(out, l.sent)
	return out
}
