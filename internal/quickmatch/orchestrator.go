package quickmatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/feed"
	"github.com/park285/quiz-duel/internal/matching"
	"github.com/park285/quiz-duel/internal/msgcat"
	"github.com/park285/quiz-duel/internal/notify"
	"go.uber.org/zap"
)

const defaultCountdown = 10 * time.Second

// Notifier delivers user-facing notices; notify.Client satisfies it.
type Notifier interface {
	Send(ctx context.Context, n notify.Notice) error
}

// Settings are the quick challenge parameters.
type Settings struct {
	Countdown     time.Duration
	Subject       string
	QuestionCount int
	TimeLimit     int
}

// Orchestrator pairs a requester with an opponent and drives the quick
// challenge through create, accept, countdown and start.
type Orchestrator struct {
	source     feed.Source
	challenges *challenge.Manager
	bot        *bot.Bot
	settings   Settings
	clock      clockwork.Clock
	logger     *zap.Logger
	notifier   Notifier
	catalog    *msgcat.Catalog

	rngMu sync.Mutex
	rng   *rand.Rand

	mu      sync.Mutex
	tickets map[string]*Ticket
}

type Option func(*Orchestrator)

func WithClock(c clockwork.Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithRand(r *rand.Rand) Option { return func(o *Orchestrator) { o.rng = r } }

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotices sends match notices through n, rendered from cat.
func WithNotices(n Notifier, cat *msgcat.Catalog) Option {
	return func(o *Orchestrator) {
		o.notifier = n
		o.catalog = cat
	}
}

func New(source feed.Source, challenges *challenge.Manager, b *bot.Bot, settings Settings, opts ...Option) *Orchestrator {
	if settings.Countdown < 0 {
		settings.Countdown = 0
	}
	if settings.QuestionCount <= 0 {
		settings.QuestionCount = 10
	}
	if settings.TimeLimit <= 0 {
		settings.TimeLimit = 15
	}
	if settings.Subject == "" {
		settings.Subject = "general"
	}
	if b == nil {
		b = bot.New("")
	}
	o := &Orchestrator{
		source:     source,
		challenges: challenges,
		bot:        b,
		settings:   settings,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
		tickets:    make(map[string]*Ticket),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultSettings uses the standard 10s countdown.
func DefaultSettings() Settings {
	return Settings{Countdown: defaultCountdown, Subject: "general", QuestionCount: 10, TimeLimit: 15}
}

// Search pairs requester and returns a ticket. Bot matches come back
// already started; human matches count down first. Cancelling ctx during
// the countdown cancels the challenge.
func (o *Orchestrator) Search(ctx context.Context, requester domain.Player) (*Ticket, error) {
	if requester.UserID == "" {
		return nil, &challenge.ValidationError{Field: "creator_id", Reason: "is required"}
	}
	candidates, err := o.source.Snapshot(ctx)
	if err != nil {
		// feed down: bot-only matching
		o.logger.Warn("quickmatch_feed_unavailable", zap.String("user_id", requester.UserID), zap.Error(err))
		candidates = nil
	}
	opponent := o.findOpponent(requester, candidates)
	isBot := bot.IsBot(opponent.UserID)

	difficulty := string(requester.Level)
	if isBot {
		tier := o.bot.AdaptedDifficulty(requester.Level, requester.XP, bot.HistoryFromPlayer(requester))
		difficulty = string(tier)
		opponent.Rating = tier.ApproxRating()
	}
	c, err := o.challenges.Create(ctx, challenge.Spec{
		Type:          domain.ChallengeQuick,
		Level:         requester.Level,
		Subject:       o.settings.Subject,
		Difficulty:    difficulty,
		QuestionCount: o.settings.QuestionCount,
		TimeLimit:     o.settings.TimeLimit,
		CreatorID:     requester.UserID,
		CreatorName:   requester.UserName,
		CreatorSchool: requester.School,
		Opponents:     []challenge.Invitee{{UserID: opponent.UserID, UserName: opponent.UserName, School: opponent.School}},
	})
	if err != nil {
		return nil, fmt.Errorf("create quick challenge: %w", err)
	}
	// quick matches are auto-accepted on the opponent's behalf
	id := c.ID
	if c, err = o.challenges.Accept(ctx, id, opponent.UserID); err != nil {
		o.abandon(ctx, id, err)
		return nil, fmt.Errorf("accept quick challenge: %w", err)
	}

	t := newTicket(o, c, requester, opponent, isBot)
	o.logger.Info("quickmatch_found",
		zap.String("challenge_id", c.ID),
		zap.String("user_id", requester.UserID),
		zap.String("opponent_id", opponent.UserID),
		zap.Bool("bot", isBot),
		zap.String("difficulty", difficulty),
	)

	if isBot {
		close(t.ticks)
		res, err := o.challenges.Start(ctx, c.ID)
		if err != nil {
			o.abandon(ctx, c.ID, err)
			return nil, fmt.Errorf("start bot challenge: %w", err)
		}
		t.resolve(res.Challenge, nil)
		o.notice(requester.UserID, c.ID, msgcat.KeyMatchBot, map[string]any{
			"OpponentName": opponent.UserName,
			"Difficulty":   difficulty,
		})
		return t, nil
	}

	o.mu.Lock()
	o.tickets[c.ID] = t
	o.mu.Unlock()
	o.notice(requester.UserID, c.ID, msgcat.KeyMatchFound, map[string]any{
		"OpponentName":   opponent.UserName,
		"OpponentRating": opponent.Rating,
		"Seconds":        int(o.settings.Countdown.Round(time.Second) / time.Second),
	})
	go o.runCountdown(ctx, t)
	return t, nil
}

// Ticket returns a live ticket by challenge id.
func (o *Orchestrator) Ticket(challengeID string) (*Ticket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tickets[challengeID]
	return t, ok
}

func (o *Orchestrator) findOpponent(requester domain.Player, candidates []domain.Player) domain.Player {
	if o.rng == nil {
		return matching.FindOpponent(requester, candidates, o.bot, nil)
	}
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return matching.FindOpponent(requester, candidates, o.bot, o.rng)
}

func (o *Orchestrator) runCountdown(ctx context.Context, t *Ticket) {
	defer close(t.ticks)
	defer o.forget(t)

	remaining := o.settings.Countdown
	for remaining > 0 {
		t.publish(int((remaining + time.Second - 1) / time.Second))
		step := time.Second
		if remaining < step {
			step = remaining
		}
		timer := o.clock.NewTimer(step)
		select {
		case <-t.cancelCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			o.cancelOnContext(t)
			return
		case <-timer.Chan():
		}
		remaining -= step
	}
	t.publish(0)

	select {
	case <-t.cancelCh:
		return
	default:
	}

	startCtx := context.WithoutCancel(ctx)
	res, err := o.challenges.Start(startCtx, t.challengeID)
	switch {
	case err == nil:
		t.resolve(res.Challenge, nil)
		o.logger.Info("quickmatch_started", zap.String("challenge_id", t.challengeID), zap.Bool("already_active", res.AlreadyActive))
		o.notice(t.requester.UserID, t.challengeID, msgcat.KeyMatchStarted, map[string]any{"ChallengeID": t.challengeID})
	case o.cancelledMeanwhile(startCtx, t.challengeID, err):
		cur, _ := o.challenges.Get(startCtx, t.challengeID)
		t.resolve(cur, ErrCancelled)
		o.logger.Info("quickmatch_start_lost", zap.String("challenge_id", t.challengeID), zap.Error(err))
	default:
		o.logger.Error("quickmatch_start_error", zap.String("challenge_id", t.challengeID), zap.Error(err))
		o.abandon(startCtx, t.challengeID, err)
		cur, _ := o.challenges.Get(startCtx, t.challengeID)
		t.resolve(cur, fmt.Errorf("start quick challenge: %w", err))
		o.notice(t.requester.UserID, t.challengeID, msgcat.KeyStartFailed, map[string]any{"ChallengeID": t.challengeID, "Reason": err.Error()})
	}
}

// cancelledMeanwhile reports whether a failed Start lost to a cancel, as
// opposed to giving up for another reason.
func (o *Orchestrator) cancelledMeanwhile(ctx context.Context, id string, err error) bool {
	if !errors.Is(err, challenge.ErrInvalidTransition) {
		return false
	}
	cur, gerr := o.challenges.Get(ctx, id)
	return gerr == nil && cur.Status == domain.StatusCancelled
}

// abandon cancels a quick challenge that failed half-way so it does not
// wait for the reaper.
func (o *Orchestrator) abandon(ctx context.Context, id string, cause error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := o.challenges.Cancel(cctx, id); err != nil {
		o.logger.Error("quickmatch_abandon_error", zap.String("challenge_id", id), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	o.logger.Warn("quickmatch_abandoned", zap.String("challenge_id", id), zap.Error(cause))
}

func (o *Orchestrator) cancelOnContext(t *Ticket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cancelTicket(ctx, t); err != nil && !errors.Is(err, ErrAlreadyStarted) {
		o.logger.Error("quickmatch_cancel_error", zap.String("challenge_id", t.challengeID), zap.Error(err))
	}
}

func (o *Orchestrator) cancelTicket(ctx context.Context, t *Ticket) error {
	c, err := o.challenges.Cancel(ctx, t.challengeID)
	if err != nil {
		if errors.Is(err, challenge.ErrInvalidTransition) {
			return ErrAlreadyStarted
		}
		return err
	}
	if t.resolve(c, ErrCancelled) {
		o.logger.Info("quickmatch_cancelled", zap.String("challenge_id", t.challengeID), zap.String("user_id", t.requester.UserID))
		for _, uid := range []string{t.requester.UserID, t.opponent.UserID} {
			o.notice(uid, t.challengeID, msgcat.KeyCancelled, map[string]any{"ChallengeID": t.challengeID})
		}
	}
	return nil
}

func (o *Orchestrator) forget(t *Ticket) {
	o.mu.Lock()
	delete(o.tickets, t.challengeID)
	o.mu.Unlock()
}

// notice is fire-and-forget; delivery failures are only logged.
func (o *Orchestrator) notice(userID, challengeID, key string, data map[string]any) {
	if o.notifier == nil || bot.IsBot(userID) {
		return
	}
	n := notify.Notice{Type: key, ChallengeID: challengeID, UserID: userID, Text: o.catalog.Notice(key, data)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.notifier.Send(ctx, n); err != nil {
			o.logger.Warn("quickmatch_notice_error", zap.String("challenge_id", challengeID), zap.String("key", key), zap.Error(err))
		}
	}()
}
