package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunqar-kz/qoldau/internal/convo"
	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/ops"
	"github.com/sunqar-kz/qoldau/internal/store"
	"github.com/sunqar-kz/qoldau/internal/transcode"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []domain.OutboundReply
	failing int // first n sends fail
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, reply domain.OutboundReply) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing > 0 {
		f.failing--
		return errors.New("delivery refused")
	}
	f.sent = append(f.sent, reply)
	return nil
}

func (f *fakeSender) bodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, r := range f.sent {
		out[i] = r.Body
	}
	return out
}

type fakeTranscoder struct {
	fn func(ctx context.Context, path string) (string, error)
}

func (f *fakeTranscoder) TranscodeFile(ctx context.Context, srcPath string, _ transcode.Params) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, srcPath)
	}
	return srcPath + ".wav", nil
}

type flakyStore struct {
	*store.MemorySessionStore
	mu          sync.Mutex
	failUpdates int
}

func (s *flakyStore) Update(userID string, turn domain.Turn, newState domain.State) error {
	s.mu.Lock()
	if s.failUpdates > 0 {
		s.failUpdates--
		s.mu.Unlock()
		return errors.New("disk on fire")
	}
	s.mu.Unlock()
	return s.MemorySessionStore.Update(userID, turn, newState)
}

type harness struct {
	disp   *Dispatcher
	store  *store.MemorySessionStore
	sender *fakeSender
	tc     *fakeTranscoder
	bus    *ops.Bus
	events <-chan ops.Event
}

func newHarness(t *testing.T, cfg Config, machine *convo.Machine) *harness {
	t.Helper()
	log := logging.New(io.Discard, "debug")
	bus := ops.NewBus(log)
	events, unsub := bus.Subscribe()
	t.Cleanup(unsub)

	h := &harness{
		store:  store.NewMemorySessionStore(),
		sender: &fakeSender{},
		tc:     &fakeTranscoder{},
		bus:    bus,
		events: events,
	}
	if machine == nil {
		machine = convo.NewMachine(0)
	}
	h.disp = New(cfg, h.store, h.sender, h.tc, machine, bus, log)
	t.Cleanup(h.disp.Stop)
	return h
}

func textEvent(user, body string) domain.InboundEvent {
	return domain.InboundEvent{
		ID:        fmt.Sprintf("evt-%s-%d", user, time.Now().UnixNano()),
		ChannelID: "test",
		UserID:    user,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func voiceEvent(user, path string) domain.InboundEvent {
	evt := textEvent(user, "")
	evt.Media = &domain.Attachment{ID: "m1", Path: path, MimeType: "audio/ogg"}
	return evt
}

func waitForBodies(t *testing.T, s *fakeSender, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.bodies()) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return s.bodies()
}

func waitForEvent(t *testing.T, events <-chan ops.Event, typ string) ops.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("no %s event arrived", typ)
		}
	}
}

func TestDispatcher_GreetingOpensSession(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("alice", "hello"))

	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, convo.ReplyGreeting, bodies[0])

	require.Eventually(t, func() bool {
		sess, err := h.store.Get("alice")
		return err == nil && sess.State == domain.StateActive && len(sess.Turns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sess, err := h.store.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", sess.Turns[0].Content)
	assert.Equal(t, convo.ReplyGreeting, sess.Turns[0].Reply)
	assert.Equal(t, "user", sess.Turns[0].Role)
}

func TestDispatcher_PerUserOrdering(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("bob", "hi"))
	h.disp.Enqueue(textEvent("bob", "my heating is broken, can you help?"))
	h.disp.Enqueue(textEvent("bob", "talk to a human"))

	bodies := waitForBodies(t, h.sender, 3)
	assert.Equal(t, []string{convo.ReplyGreeting, convo.ReplyQuestionAck, convo.ReplyEscalated}, bodies)

	require.Eventually(t, func() bool {
		sess, err := h.store.Get("bob")
		return err == nil && len(sess.Turns) == 3
	}, 2*time.Second, 5*time.Millisecond)

	sess, err := h.store.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingAgent, sess.State)
	for i, turn := range sess.Turns {
		assert.Equal(t, i+1, turn.Seq)
	}
}

func TestDispatcher_UsersProceedIndependently(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	for _, user := range []string{"u1", "u2", "u3"} {
		h.disp.Enqueue(textEvent(user, "hello"))
	}
	waitForBodies(t, h.sender, 3)

	for _, user := range []string{"u1", "u2", "u3"} {
		sess, err := h.store.Get(user)
		require.NoError(t, err)
		assert.Equal(t, domain.StateActive, sess.State)
	}
}

func TestDispatcher_EscalationPublishesEvent(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("carol", "I need to talk to a human"))

	evt := waitForEvent(t, h.events, ops.EventEscalation)
	assert.Equal(t, "carol", evt.UserID)
}

func TestDispatcher_UrgentEscalation(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("dave", "gas leak in the basement, escalate now"))

	evt := waitForEvent(t, h.events, ops.EventUrgentEscalation)
	assert.Equal(t, "dave", evt.UserID)
	assert.Contains(t, evt.Detail, "gas leak")
}

func TestDispatcher_VoiceNoteTranscoded(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.tc.fn = func(ctx context.Context, path string) (string, error) {
		return "/data/media/norm.wav", nil
	}

	h.disp.Enqueue(voiceEvent("erin", "/tmp/in.ogg"))

	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, convo.ReplyVoiceAck, bodies[0])

	require.Eventually(t, func() bool {
		sess, err := h.store.Get("erin")
		return err == nil && len(sess.Turns) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sess, err := h.store.Get("erin")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sess.State)
	assert.Equal(t, "/data/media/norm.wav", sess.Turns[0].MediaRef)
}

func TestDispatcher_TranscodeFailureLeavesStateAlone(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.tc.fn = func(ctx context.Context, path string) (string, error) {
		return "", &transcode.Error{Reason: transcode.ReasonToolFailed, Detail: "exit 1"}
	}

	h.disp.Enqueue(voiceEvent("frank", "/tmp/bad.ogg"))

	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, convo.ReplyMediaFailed, bodies[0])

	// No transition and no recorded turn for the failed note.
	sess, err := h.store.Get("frank")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, sess.State)
	assert.Empty(t, sess.Turns)
}

func TestDispatcher_CancelledTranscodeStaysSilent(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.tc.fn = func(ctx context.Context, path string) (string, error) {
		return "", &transcode.Error{Reason: transcode.ReasonCancelled, Err: context.Canceled}
	}

	h.disp.Enqueue(voiceEvent("gina", "/tmp/in.ogg"))
	h.disp.Enqueue(textEvent("gina", "hello"))

	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, []string{convo.ReplyGreeting}, bodies)
}

func TestDispatcher_CloseCancelsInflightTranscode(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	running := make(chan struct{})
	h.tc.fn = func(ctx context.Context, path string) (string, error) {
		close(running)
		<-ctx.Done()
		return "", &transcode.Error{Reason: transcode.ReasonCancelled, Err: ctx.Err()}
	}

	_, err := h.store.GetOrCreate("henry", "test")
	require.NoError(t, err)
	h.disp.Enqueue(voiceEvent("henry", "/tmp/long.ogg"))
	<-running

	require.NoError(t, h.disp.Close(context.Background(), "henry"))

	// The worker drains the cancelled job without replying about it.
	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, []string{convo.ReplyGoodbye}, bodies)
	assert.Equal(t, 1, h.store.ArchivedCount())
}

func TestDispatcher_ClosingArchivesSession(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("ivan", "hello"))
	h.disp.Enqueue(textEvent("ivan", "bye"))

	bodies := waitForBodies(t, h.sender, 2)
	assert.Equal(t, convo.ReplyGoodbye, bodies[1])

	require.Eventually(t, func() bool {
		return h.store.ArchivedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := h.store.Get("ivan")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDispatcher_LapsedResolvedSessionRestarts(t *testing.T) {
	machine := convo.NewMachine(10 * time.Millisecond)
	h := newHarness(t, DefaultConfig(), machine)

	h.disp.Enqueue(textEvent("judy", "hello"))
	waitForBodies(t, h.sender, 1)
	require.NoError(t, h.disp.Resolve(context.Background(), "judy", ""))

	time.Sleep(50 * time.Millisecond)
	h.disp.Enqueue(textEvent("judy", "hello"))

	bodies := waitForBodies(t, h.sender, 3)
	// Resolution notice, then a fresh-session greeting rather than a reopen.
	assert.Equal(t, convo.ReplyGreeting, bodies[2])

	require.Eventually(t, func() bool {
		return h.store.ArchivedCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	sess, err := h.store.Get("judy")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sess.State)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, convo.ReplyGreeting, sess.Turns[0].Reply)
}

func TestDispatcher_ResolvedReopensWithinGrace(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("kate", "hello"))
	waitForBodies(t, h.sender, 1)
	require.NoError(t, h.disp.Resolve(context.Background(), "kate", "fixed it"))

	h.disp.Enqueue(textEvent("kate", "actually it broke again"))

	bodies := waitForBodies(t, h.sender, 3)
	assert.Equal(t, convo.ReplyReopened, bodies[2])

	require.Eventually(t, func() bool {
		sess, err := h.store.Get("kate")
		return err == nil && sess.State == domain.StateActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.store.ArchivedCount())
}

func TestDispatcher_SendFailureReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRetries = 2
	cfg.RetryBackoff = time.Millisecond
	h := newHarness(t, cfg, nil)
	h.sender.failing = 2

	h.disp.Enqueue(textEvent("luke", "hello"))

	waitForEvent(t, h.events, ops.EventSendFailed)

	// The turn is still recorded even though delivery failed.
	require.Eventually(t, func() bool {
		sess, err := h.store.Get("luke")
		return err == nil && len(sess.Turns) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_SendRetrySucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendRetries = 3
	cfg.RetryBackoff = time.Millisecond
	h := newHarness(t, cfg, nil)
	h.sender.failing = 2

	h.disp.Enqueue(textEvent("mary", "hello"))

	bodies := waitForBodies(t, h.sender, 1)
	assert.Equal(t, convo.ReplyGreeting, bodies[0])
}

func TestDispatcher_PersistenceFailureReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistRetries = 2
	cfg.RetryBackoff = time.Millisecond
	log := logging.New(io.Discard, "debug")
	bus := ops.NewBus(log)
	events, unsub := bus.Subscribe()
	defer unsub()

	st := &flakyStore{MemorySessionStore: store.NewMemorySessionStore(), failUpdates: 5}
	sender := &fakeSender{}
	d := New(cfg, st, sender, &fakeTranscoder{}, convo.NewMachine(0), bus, log)
	defer d.Stop()

	d.Enqueue(textEvent("nina", "hello"))

	evt := waitForEvent(t, events, ops.EventPersistenceFailed)
	assert.Equal(t, "nina", evt.UserID)
	// The user still got their reply.
	assert.Equal(t, []string{convo.ReplyGreeting}, sender.bodies())
}

func TestDispatcher_PersistenceRetrySucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistRetries = 3
	cfg.RetryBackoff = time.Millisecond
	log := logging.New(io.Discard, "debug")
	bus := ops.NewBus(log)

	st := &flakyStore{MemorySessionStore: store.NewMemorySessionStore(), failUpdates: 2}
	sender := &fakeSender{}
	d := New(cfg, st, sender, &fakeTranscoder{}, convo.NewMachine(0), bus, log)
	defer d.Stop()

	d.Enqueue(textEvent("oona", "hello"))

	require.Eventually(t, func() bool {
		sess, err := st.Get("oona")
		return err == nil && len(sess.Turns) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_FullInboxDropsEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	h := newHarness(t, cfg, nil)
	h.sender.started = make(chan struct{}, 8)
	h.sender.gate = make(chan struct{})

	h.disp.Enqueue(textEvent("pete", "hello"))
	<-h.sender.started // worker is now blocked mid-send
	h.disp.Enqueue(textEvent("pete", "second"))
	h.disp.Enqueue(textEvent("pete", "third"))

	evt := waitForEvent(t, h.events, ops.EventQueueFull)
	assert.Equal(t, "pete", evt.UserID)

	close(h.sender.gate)
}

func TestDispatcher_AgentReply(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("quin", "talk to a human"))
	waitForBodies(t, h.sender, 1)
	require.Eventually(t, func() bool {
		sess, err := h.store.Get("quin")
		return err == nil && sess.State == domain.StateAwaitingAgent
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.disp.AgentReply(context.Background(), "quin", "it's handled, restart the router"))

	sess, err := h.store.Get("quin")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sess.State)
	bodies := h.sender.bodies()
	assert.Equal(t, "it's handled, restart the router", bodies[len(bodies)-1])
	last := sess.Turns[len(sess.Turns)-1]
	assert.Equal(t, "agent", last.Role)
}

func TestDispatcher_AgentReplyRequiresEscalation(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)

	h.disp.Enqueue(textEvent("rosa", "hello"))
	require.Eventually(t, func() bool {
		sess, err := h.store.Get("rosa")
		return err == nil && sess.State == domain.StateActive
	}, 2*time.Second, 5*time.Millisecond)

	err := h.disp.AgentReply(context.Background(), "rosa", "hi")
	assert.Error(t, err)
}

func TestDispatcher_ResolveUnknownUser(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	err := h.disp.Resolve(context.Background(), "nobody", "")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDispatcher_CloseUnknownUserIsNoop(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	assert.NoError(t, h.disp.Close(context.Background(), "nobody"))
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil)
	h.disp.Enqueue(textEvent("sam", "hello"))
	waitForBodies(t, h.sender, 1)
	h.disp.Stop()
	h.disp.Stop()
	// Events after stop are dropped without panicking.
	h.disp.Enqueue(textEvent("sam", "anyone there?"))
}
