package reaper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/domain"
	"go.uber.org/zap"
)

// Challenges is the subset of challenge.Manager the reaper needs.
type Challenges interface {
	ListPending(ctx context.Context) ([]*domain.Challenge, error)
	Cancel(ctx context.Context, id string) (*domain.Challenge, error)
}

// Pruner drops expired presence rows; presence.RedisStore satisfies it.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// Reaper cancels challenges that never got started.
type Reaper struct {
	challenges Challenges
	pruner     Pruner
	interval   time.Duration
	maxAge     time.Duration
	clock      clockwork.Clock
	logger     *zap.Logger

	sched gocron.Scheduler
}

type Option func(*Reaper)

func WithClock(c clockwork.Clock) Option { return func(r *Reaper) { r.clock = c } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithPruner(p Pruner) Option { return func(r *Reaper) { r.pruner = p } }

func New(challenges Challenges, interval, maxAge time.Duration, opts ...Option) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if maxAge <= 0 {
		maxAge = 2 * time.Minute
	}
	r := &Reaper{
		challenges: challenges,
		interval:   interval,
		maxAge:     maxAge,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep cancels every pending challenge older than maxAge. Scheduled
// challenges age from their scheduled time.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	pending, err := r.challenges.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	now := r.clock.Now()
	cancelled := 0
	var errs []error
	for _, c := range pending {
		ref := c.CreatedAt
		if c.ScheduledTime != nil {
			ref = *c.ScheduledTime
		}
		if now.Sub(ref) < r.maxAge {
			continue
		}
		if _, err := r.challenges.Cancel(ctx, c.ID); err != nil {
			// started between list and cancel
			if errors.Is(err, challenge.ErrInvalidTransition) {
				continue
			}
			errs = append(errs, fmt.Errorf("cancel %s: %w", c.ID, err))
			continue
		}
		cancelled++
		r.logger.Info("reaper_cancelled", zap.String("challenge_id", c.ID), zap.String("status", string(c.Status)), zap.Duration("age", now.Sub(ref)))
	}
	if r.pruner != nil {
		if n, err := r.pruner.Prune(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prune presence: %w", err))
		} else if n > 0 {
			r.logger.Debug("reaper_presence_pruned", zap.Int64("removed", n))
		}
	}
	return cancelled, errors.Join(errs...)
}

// Start schedules Sweep every interval until Stop or ctx is done.
func (r *Reaper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(r.clock))
	if err != nil {
		return fmt.Errorf("new scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(ctx, r.interval)
			defer cancel()
			if _, err := r.Sweep(sweepCtx); err != nil {
				r.logger.Warn("reaper_sweep_error", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("challenge-reaper"),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("schedule reaper: %w", err)
	}
	r.sched = sched
	sched.Start()
	r.logger.Info("reaper_started", zap.Duration("interval", r.interval), zap.Duration("max_age", r.maxAge))
	return nil
}

func (r *Reaper) Stop() error {
	if r.sched == nil {
		return nil
	}
	return r.sched.Shutdown()
}
