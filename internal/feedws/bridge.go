package feedws

import (
	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/feed"
	"go.uber.org/zap"
)

// Bridge publishes online frames into a feed.Hub and marks the hub
// unavailable while the socket is down.
func Bridge(c Client, hub *feed.Hub, clock clockwork.Clock, logger *zap.Logger) (detach func()) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	frameID := c.OnFrame(func(f *Frame) {
		if f == nil || f.Type != FrameOnline {
			return
		}
		players := make([]domain.Player, 0, len(f.Players))
		for _, p := range f.Players {
			if p.UserID == "" || bot.IsBot(p.UserID) {
				continue
			}
			if p.Rating == 0 {
				p.Rating = domain.DefaultRating
			}
			players = append(players, p)
		}
		hub.Publish(players, clock.Now())
		logger.Debug("feed_ws_snapshot", zap.Int("players", len(players)))
	})
	stateID := c.OnStateChange(func(s State) {
		switch s {
		case StateDisconnected, StateReconnecting, StateFailed:
			hub.MarkUnavailable(nil)
			logger.Warn("feed_ws_down", zap.String("state", s.String()))
		case StateConnected:
			logger.Info("feed_ws_connected")
		}
	})
	return func() {
		c.RemoveFrameCallback(frameID)
		c.RemoveStateCallback(stateID)
	}
}
