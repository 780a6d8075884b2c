package dispatch

import (
	"context"
	"time"

	"github.com/sunqar-kz/qoldau/internal/logging"
	"github.com/sunqar-kz/qoldau/internal/ops"
)

// Sweeper periodically archives idle sessions and closes out resolved
// sessions whose reopen grace window has lapsed.
type Sweeper struct {
	store    SessionStore
	disp     *Dispatcher
	bus      *ops.Bus
	log      *logging.Logger
	interval time.Duration
	idle     time.Duration
	grace    time.Duration
}

// NewSweeper creates a sweeper. interval defaults to one minute, idle to
// thirty minutes, grace to the machine default of fifteen.
func NewSweeper(st SessionStore, disp *Dispatcher, bus *ops.Bus, log *logging.Logger, interval, idle, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	return &Sweeper{
		store:    st,
		disp:     disp,
		bus:      bus,
		log:      log.Sub("sweeper"),
		interval: interval,
		idle:     idle,
		grace:    grace,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	n, err := s.store.ExpireIdle(s.idle)
	if err != nil {
		s.log.Error().Err(err).Msg("idle expiry failed")
	} else if n > 0 {
		s.log.Info().Int("count", n).Msg("idle sessions archived")
		s.bus.Publish(ops.Event{Type: ops.EventSessionExpired, Detail: "idle"})
	}

	users, err := s.store.ResolvedBefore(time.Now().Add(-s.grace))
	if err != nil {
		s.log.Error().Err(err).Msg("resolved sweep failed")
		return
	}
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		if err := s.disp.Close(ctx, userID); err != nil {
			s.log.Error().Err(err).Str("user", userID).Msg("could not close resolved session")
		}
	}
}
