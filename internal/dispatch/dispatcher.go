// Package dispatch routes inbound channel events through the media
// pipeline and the conversation machine, serialized per user, and fans
// replies back out to the originating channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sunqar-kz/qoldau/internal/convo"
	"github.com/sunqar-kz/qoldau/internal/domain"
	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/ops"
	"github.com/sunqar-kz/qoldau/internal/store"
	"github.com/sunqar-kz/qoldau/internal/transcode"
)

// SessionStore is the persistence surface the dispatcher needs.
// Both the sqlite and in-memory stores satisfy it.
type SessionStore interface {
	GetOrCreate(userID, channelID string) (*domain.Session, error)
	Get(userID string) (*domain.Session, error)
	Update(userID string, turn domain.Turn, newState domain.State) error
	Archive(userID string) error
	ExpireIdle(threshold time.Duration) (int, error)
	ResolvedBefore(cutoff time.Time) ([]string, error)
	ListActive() ([]domain.Session, error)
}

// Sender delivers replies back to a channel. The channel registry
// satisfies it by routing on OutboundReply.ChannelID.
type Sender interface {
	Send(ctx context.Context, reply domain.OutboundReply) error
}

// Transcoder normalizes attached audio to the configured target format.
type Transcoder interface {
	TranscodeFile(ctx context.Context, srcPath string, p transcode.Params) (string, error)
}

// Config tunes queue sizes and retry behavior.
type Config struct {
	// QueueSize bounds each per-user inbox. A full inbox drops the
	// event rather than blocking the channel's receive loop.
	QueueSize int
	// SendRetries is the number of delivery attempts per reply.
	SendRetries int
	// PersistRetries is the number of attempts to record a turn.
	PersistRetries int
	// RetryBackoff is the initial wait between attempts; it doubles
	// after each failure.
	RetryBackoff time.Duration
	// Target is the normalization target for voice notes.
	Target transcode.Params
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      16,
		SendRetries:    3,
		PersistRetries: 3,
		RetryBackoff:   200 * time.Millisecond,
		Target:         transcode.DefaultParams,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.SendRetries <= 0 {
		c.SendRetries = d.SendRetries
	}
	if c.PersistRetries <= 0 {
		c.PersistRetries = d.PersistRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.Target.SampleRate == 0 {
		c.Target = d.Target
	}
	return c
}

// Dispatcher owns one worker goroutine per active user so that all
// processing for a user happens in order, while different users proceed
// concurrently.
type Dispatcher struct {
	cfg     Config
	store   SessionStore
	sender  Sender
	tc      Transcoder
	machine *convo.Machine
	bus     *ops.Bus
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	workers  map[string]chan domain.InboundEvent
	inflight map[string]context.CancelFunc // per-user transcode in progress
	wg       sync.WaitGroup
	closed   bool
}

// New creates a dispatcher. Call Stop to drain and release the workers.
func New(cfg Config, st SessionStore, sender Sender, tc Transcoder, machine *convo.Machine, bus *ops.Bus, log *logging.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		store:    st,
		sender:   sender,
		tc:       tc,
		machine:  machine,
		bus:      bus,
		log:      log.Sub("dispatch"),
		ctx:      ctx,
		cancel:   cancel,
		workers:  make(map[string]chan domain.InboundEvent),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Enqueue hands an inbound event to the owning user's worker, creating
// the worker on first contact. It never blocks: when the user's inbox is
// full the event is dropped and reported on the bus.
func (d *Dispatcher) Enqueue(evt domain.InboundEvent) {
	if evt.UserID == "" {
		d.log.Warn().Str("channel", evt.ChannelID).Msg("event without user id dropped")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	inbox, ok := d.workers[evt.UserID]
	if !ok {
		inbox = make(chan domain.InboundEvent, d.cfg.QueueSize)
		d.workers[evt.UserID] = inbox
		d.wg.Add(1)
		go d.runWorker(evt.UserID, inbox)
	}

	// Non-blocking; holding the lock here keeps Stop from closing the
	// inbox mid-send.
	select {
	case inbox <- evt:
	default:
		d.log.Warn().Str("user", evt.UserID).Msg("inbox full, event dropped")
		d.bus.Publish(ops.Event{Type: ops.EventQueueFull, UserID: evt.UserID})
	}
}

// Stop cancels in-flight work and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, inbox := range d.workers {
		close(inbox)
	}
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(userID string, inbox <-chan domain.InboundEvent) {
	defer d.wg.Done()
	log := d.log.Sub("worker").Zerolog().With().Str("user", userID).Logger()
	for evt := range inbox {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.handle(evt); err != nil {
			log.Error().Err(err).Str("event", evt.ID).Msg("event processing failed")
		}
	}
}

// handle runs the full pipeline for one inbound event: transcode if the
// event carries media, classify, step the machine, reply, persist.
func (d *Dispatcher) handle(evt domain.InboundEvent) error {
	sess, err := d.store.GetOrCreate(evt.UserID, evt.ChannelID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	content := evt.Body
	mediaRef := ""
	isVoice := evt.Media != nil

	if isVoice {
		out, err := d.runTranscode(evt)
		if err != nil {
			var terr *transcode.Error
			if errors.As(err, &terr) && terr.Reason == transcode.ReasonCancelled {
				// Session was closed while the job ran; nothing to say.
				return nil
			}
			// Fixed failure reply, session state untouched.
			d.sendReply(evt, convo.ReplyMediaFailed)
			return fmt.Errorf("transcode: %w", err)
		}
		mediaRef = out
		content = "[voice note]"
	}

	kind := convo.KindQuestion
	urgent := false
	if !isVoice {
		kind = convo.Classify(content)
		urgent = convo.Urgent(content)
	}

	var resolvedAt time.Time
	if sess.ResolvedAt != nil {
		resolvedAt = *sess.ResolvedAt
	}
	res := d.machine.Step(sess.State, kind, resolvedAt)

	// A resolved session past its grace window is closed out and the
	// message restarts in a fresh session.
	if res.Next == domain.StateClosed && res.Queued {
		if err := d.store.Archive(evt.UserID); err != nil {
			return fmt.Errorf("archive lapsed session: %w", err)
		}
		if sess, err = d.store.GetOrCreate(evt.UserID, evt.ChannelID); err != nil {
			return fmt.Errorf("reopen session: %w", err)
		}
		res = d.machine.Step(sess.State, kind, time.Time{})
	}

	reply := res.Reply
	if isVoice && reply == convo.ReplyQuestionAck {
		reply = convo.ReplyVoiceAck
	}
	if reply != "" {
		d.sendReply(evt, reply)
	}

	turn := domain.Turn{
		Role:     "user",
		Content:  content,
		MediaRef: mediaRef,
		Reply:    reply,
		At:       time.Now().UTC(),
	}
	d.persist(evt.UserID, turn, res.Next)

	if res.Next == domain.StateClosed {
		d.cancelInflight(evt.UserID)
		if err := d.store.Archive(evt.UserID); err != nil {
			return fmt.Errorf("archive closed session: %w", err)
		}
	}

	if res.Next == domain.StateAwaitingAgent && sess.State != domain.StateAwaitingAgent {
		typ := ops.EventEscalation
		if urgent {
			typ = ops.EventUrgentEscalation
		}
		d.bus.Publish(ops.Event{Type: typ, UserID: evt.UserID, SessionID: sess.ID, Detail: content})
	}
	return nil
}

// runTranscode normalizes the event's attachment under a per-user
// cancellable context so that closing the session aborts the job.
func (d *Dispatcher) runTranscode(evt domain.InboundEvent) (string, error) {
	job := domain.MediaJob{
		ID:         evt.Media.ID,
		UserID:     evt.UserID,
		SourcePath: evt.Media.Path,
		Status:     domain.MediaJobPending,
		StartedAt:  time.Now(),
	}

	ctx, cancel := context.WithCancel(d.ctx)
	d.mu.Lock()
	d.inflight[evt.UserID] = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.inflight, evt.UserID)
		d.mu.Unlock()
	}()

	out, err := d.tc.TranscodeFile(ctx, evt.Media.Path, d.cfg.Target)
	if err != nil {
		job.Status = domain.MediaJobFailed
		job.Err = err.Error()
	} else {
		job.Status = domain.MediaJobDone
		job.OutputPath = out
	}
	d.log.Debug().
		Str("job", job.ID).
		Str("user", job.UserID).
		Str("status", string(job.Status)).
		Dur("took", time.Since(job.StartedAt)).
		Msg("media job finished")
	return out, err
}

func (d *Dispatcher) cancelInflight(userID string) {
	d.mu.Lock()
	cancel := d.inflight[userID]
	delete(d.inflight, userID)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sendReply delivers with bounded retries. Delivery failures are
// reported on the bus but never fail the pipeline.
func (d *Dispatcher) sendReply(evt domain.InboundEvent, body string) {
	reply := domain.OutboundReply{
		ChannelID: evt.ChannelID,
		UserID:    evt.UserID,
		Body:      body,
		ReplyToID: evt.ID,
	}
	err := d.retry(d.cfg.SendRetries, func() error {
		return d.sender.Send(d.ctx, reply)
	})
	if err != nil {
		d.log.Error().Err(err).Str("user", evt.UserID).Msg("reply delivery failed")
		d.bus.Publish(ops.Event{Type: ops.EventSendFailed, UserID: evt.UserID, Detail: err.Error()})
	}
}

// persist records the turn with bounded retries. The turn is already
// answered by the time we get here, so exhausting the retries loses the
// record but not the conversation.
func (d *Dispatcher) persist(userID string, turn domain.Turn, next domain.State) {
	err := d.retry(d.cfg.PersistRetries, func() error {
		err := d.store.Update(userID, turn, next)
		if errors.Is(err, store.ErrSessionNotFound) {
			// The session vanished between load and store; retrying
			// cannot bring it back.
			d.log.Error().Str("user", userID).Msg("session vanished, turn dropped")
			return nil
		}
		return err
	})
	if err != nil {
		d.log.Error().Err(err).Str("user", userID).Msg("turn not persisted")
		d.bus.Publish(ops.Event{Type: ops.EventPersistenceFailed, UserID: userID, Detail: err.Error()})
	}
}

func (d *Dispatcher) retry(attempts int, fn func() error) error {
	backoff := d.cfg.RetryBackoff
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 || d.ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return err
		}
		backoff *= 2
	}
	return err
}

// AgentReply delivers a human agent's answer into an escalated session
// and hands it back to the bot.
func (d *Dispatcher) AgentReply(ctx context.Context, userID, text string) error {
	sess, err := d.store.Get(userID)
	if err != nil {
		return err
	}
	next, ok := d.machine.AgentReply(sess.State)
	if !ok {
		return fmt.Errorf("session for %s is %s, not awaiting an agent", userID, sess.State)
	}
	if err := d.sender.Send(ctx, domain.OutboundReply{
		ChannelID: sess.ChannelID,
		UserID:    userID,
		Body:      text,
	}); err != nil {
		return fmt.Errorf("deliver agent reply: %w", err)
	}
	return d.store.Update(userID, domain.Turn{
		Role:    "agent",
		Content: text,
		At:      time.Now().UTC(),
	}, next)
}

// Resolve marks a user's session resolved and tells them so. The session
// stays reopenable for the machine's grace window.
func (d *Dispatcher) Resolve(ctx context.Context, userID, note string) error {
	sess, err := d.store.Get(userID)
	if err != nil {
		return err
	}
	next, ok := d.machine.Resolve(sess.State)
	if !ok {
		return fmt.Errorf("session for %s is %s and cannot be resolved", userID, sess.State)
	}
	if note == "" {
		note = "Your request has been marked resolved. Reply within a few minutes if anything is still wrong."
	}
	if err := d.sender.Send(ctx, domain.OutboundReply{
		ChannelID: sess.ChannelID,
		UserID:    userID,
		Body:      note,
	}); err != nil {
		d.log.Warn().Err(err).Str("user", userID).Msg("resolution notice not delivered")
	}
	return d.store.Update(userID, domain.Turn{
		Role:    "agent",
		Content: note,
		At:      time.Now().UTC(),
	}, next)
}

// Close terminates a user's session immediately: any in-flight transcode
// is cancelled and the transcript is archived.
func (d *Dispatcher) Close(ctx context.Context, userID string) error {
	d.cancelInflight(userID)
	sess, err := d.store.Get(userID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := d.store.Update(userID, domain.Turn{
		Role:    "agent",
		Content: "session closed by agent",
		At:      time.Now().UTC(),
	}, domain.StateClosed); err != nil {
		return err
	}
	if err := d.sender.Send(ctx, domain.OutboundReply{
		ChannelID: sess.ChannelID,
		UserID:    userID,
		Body:      convo.ReplyGoodbye,
	}); err != nil {
		d.log.Warn().Err(err).Str("user", userID).Msg("close notice not delivered")
	}
	return d.store.Archive(userID)
}

// Sessions lists the live sessions, for the ops surface.
func (d *Dispatcher) Sessions() ([]domain.Session, error) {
	return d.store.ListActive()
}
