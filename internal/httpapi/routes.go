package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/msgcat"
	"github.com/park285/quiz-duel/internal/player"
	"github.com/park285/quiz-duel/internal/presence"
	"github.com/park285/quiz-duel/internal/quickmatch"
	"go.uber.org/zap"
)

// Heartbeats records and reads presence; presence.RedisStore satisfies it.
type Heartbeats interface {
	Touch(ctx context.Context, userID string) (domain.PresenceRecord, error)
	LastSeen(ctx context.Context, userID string) (domain.PresenceRecord, bool, error)
}

// FeedClock reports when the candidate feed last refreshed; feed.Hub satisfies it.
type FeedClock interface {
	UpdatedAt() time.Time
}

// Deps are the services the handlers call into.
type Deps struct {
	Presence   Heartbeats
	Online     presence.Oracle
	Feed       FeedClock
	Players    *player.Service
	Challenges *challenge.Manager
	QuickMatch *quickmatch.Orchestrator
	Catalog    *msgcat.Catalog
	Notifier   quickmatch.Notifier
	// Checks are named readiness probes for /healthz.
	Checks map[string]func(ctx context.Context) error
	Logger *zap.Logger
}

const (
	healthTimeout  = 3 * time.Second
	feedStaleAfter = time.Minute
)

func addRoutes(r chi.Router, d Deps) {
	h := &handlers{d: d}

	r.Get("/healthz", h.health)
	r.Post("/presence/heartbeat", h.heartbeat)
	r.Get("/presence/{id}", h.presenceStatus)

	r.Route("/quickmatch", func(r chi.Router) {
		r.Post("/", h.quickMatch)
		r.Get("/{id}", h.quickMatchStatus)
		r.Post("/{id}/cancel", h.quickMatchCancel)
	})

	r.Route("/challenges", func(r chi.Router) {
		r.Post("/", h.createChallenge)
		r.Get("/{id}", h.getChallenge)
		r.Post("/{id}/accept", h.acceptChallenge)
		r.Post("/{id}/decline", h.declineChallenge)
		r.Post("/{id}/start", h.startChallenge)
		r.Post("/{id}/cancel", h.cancelChallenge)
	})

	r.Get("/players/{id}/challenges", h.listPlayerChallenges)
}
