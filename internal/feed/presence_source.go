package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/domain"
	"go.uber.org/zap"
)

// OnlineLister lists ids whose heartbeat is inside the presence window.
type OnlineLister interface {
	OnlineIDs(ctx context.Context) ([]string, error)
}

// PlayerLookup resolves ids into player records, skipping unknown ones.
type PlayerLookup interface {
	Lookup(ctx context.Context, ids []string) ([]domain.Player, error)
}

// PresenceSource polls the heartbeat store and publishes online players
// into a Hub.
type PresenceSource struct {
	hub      *Hub
	online   OnlineLister
	players  PlayerLookup
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewPresenceSource(hub *Hub, online OnlineLister, players PlayerLookup, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *PresenceSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceSource{hub: hub, online: online, players: players, interval: interval, clock: clock, logger: logger}
}

// Poll runs one refresh. A failing upstream marks the hub unavailable.
func (s *PresenceSource) Poll(ctx context.Context) error {
	ids, err := s.online.OnlineIDs(ctx)
	if err != nil {
		err = fmt.Errorf("list online ids: %w", err)
		s.hub.MarkUnavailable(err)
		return err
	}
	humans := ids[:0:0]
	for _, id := range ids {
		if !bot.IsBot(id) {
			humans = append(humans, id)
		}
	}
	players, err := s.players.Lookup(ctx, humans)
	if err != nil {
		err = fmt.Errorf("load online players: %w", err)
		s.hub.MarkUnavailable(err)
		return err
	}
	s.hub.Publish(players, s.clock.Now())
	return nil
}

// Run polls until ctx is done.
func (s *PresenceSource) Run(ctx context.Context) error {
	if err := s.Poll(ctx); err != nil {
		s.logger.Warn("feed_poll_error", zap.Error(err))
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := s.Poll(ctx); err != nil {
				s.logger.Warn("feed_poll_error", zap.Error(err))
			}
		}
	}
}
