package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/park285/quiz-duel/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultMaxPlayers   = 2
	defaultStartRetries = 3
	defaultRetryBase    = 50 * time.Millisecond
)

// errNotAccepted is retried by Start before surfacing a TransitionError.
var errNotAccepted = errors.New("no accepted opponent yet")

// Archiver receives challenges that reached active or cancelled.
type Archiver interface {
	SaveChallenge(ctx context.Context, c *domain.Challenge) error
}

// Invitee is an opponent named in a Spec.
type Invitee struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	School   string `json:"school"`
}

// Spec is the input of Create.
type Spec struct {
	Type          domain.ChallengeType `json:"type"`
	Level         domain.Level         `json:"level"`
	Subject       string               `json:"subject"`
	Difficulty    string               `json:"difficulty"`
	QuestionCount int                  `json:"question_count"`
	TimeLimit     int                  `json:"time_limit"`
	CreatorID     string               `json:"creator_id"`
	CreatorName   string               `json:"creator_name"`
	CreatorSchool string               `json:"creator_school"`
	Opponents     []Invitee            `json:"opponents"`
	MaxPlayers    int                  `json:"max_players"`
	ScheduledTime *time.Time           `json:"scheduled_time,omitempty"`
}

// StartResult distinguishes the winning Start from one that found the
// challenge already active.
type StartResult struct {
	Challenge     *domain.Challenge
	Started       bool
	AlreadyActive bool
}

// Manager is the single authority over challenge status transitions.
type Manager struct {
	store        Store
	clock        clockwork.Clock
	newID        func() string
	startRetries int
	retryBase    time.Duration
	archive      Archiver
	logger       *zap.Logger
}

type Option func(*Manager)

func WithClock(c clockwork.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithIDGenerator(fn func() string) Option { return func(m *Manager) { m.newID = fn } }

// WithStartRetries sets how many extra reads Start makes while waiting for
// an acceptance to become visible, and the base of the doubling backoff.
func WithStartRetries(n int, base time.Duration) Option {
	return func(m *Manager) {
		if n < 0 {
			n = 0
		}
		m.startRetries = n
		if base > 0 {
			m.retryBase = base
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		clock:        clockwork.NewRealClock(),
		newID:        uuid.NewString,
		startRetries: defaultStartRetries,
		retryBase:    defaultRetryBase,
		logger:       obslog.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachArchive wires a persistent archive for terminal-ish states.
func (m *Manager) AttachArchive(a Archiver) {
	if m != nil {
		m.archive = a
	}
}

// Create validates spec and persists a new challenge.
func (m *Manager) Create(ctx context.Context, spec Spec) (*domain.Challenge, error) {
	if err := validate(&spec); err != nil {
		return nil, err
	}
	now := m.clock.Now()
	c := &domain.Challenge{
		ID:            m.newID(),
		Type:          spec.Type,
		Level:         spec.Level,
		Subject:       strings.TrimSpace(spec.Subject),
		Difficulty:    strings.TrimSpace(spec.Difficulty),
		QuestionCount: spec.QuestionCount,
		TimeLimit:     spec.TimeLimit,
		CreatorID:     strings.TrimSpace(spec.CreatorID),
		CreatorName:   strings.TrimSpace(spec.CreatorName),
		CreatorSchool: strings.TrimSpace(spec.CreatorSchool),
		Opponents:     make([]domain.Opponent, 0, len(spec.Opponents)),
		MaxPlayers:    spec.MaxPlayers,
		ScheduledTime: spec.ScheduledTime,
		Status:        domain.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, inv := range spec.Opponents {
		c.Opponents = append(c.Opponents, domain.Opponent{
			UserID:   strings.TrimSpace(inv.UserID),
			UserName: strings.TrimSpace(inv.UserName),
			School:   strings.TrimSpace(inv.School),
			Status:   domain.OpponentInvited,
		})
	}
	if len(c.Opponents) > 0 {
		c.Status = domain.StatusInvited
	}
	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}
	m.logger.Info("challenge_create",
		zap.String("challenge_id", c.ID),
		zap.String("type", string(c.Type)),
		zap.String("creator_id", c.CreatorID),
		zap.Int("opponents", len(c.Opponents)),
		zap.String("status", string(c.Status)),
	)
	return c.Clone(), nil
}

func validate(spec *Spec) error {
	if spec.Type == "" {
		spec.Type = domain.ChallengeQuick
	}
	if !spec.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", spec.Type)}
	}
	if strings.TrimSpace(spec.CreatorID) == "" {
		return &ValidationError{Field: "creator_id", Reason: "is required"}
	}
	if spec.QuestionCount <= 0 {
		return &ValidationError{Field: "question_count", Reason: "must be positive"}
	}
	if spec.TimeLimit <= 0 {
		return &ValidationError{Field: "time_limit", Reason: "must be positive"}
	}
	if spec.MaxPlayers == 0 {
		spec.MaxPlayers = defaultMaxPlayers
	}
	if spec.MaxPlayers < len(spec.Opponents)+1 {
		return &ValidationError{Field: "opponents", Reason: fmt.Sprintf("%d opponents exceed max_players %d", len(spec.Opponents), spec.MaxPlayers)}
	}
	if spec.Type == domain.ChallengeFriend && len(spec.Opponents) > 1 {
		return &ValidationError{Field: "opponents", Reason: "friend challenge takes exactly one opponent"}
	}
	if spec.Type == domain.ChallengeScheduled && spec.ScheduledTime == nil {
		return &ValidationError{Field: "scheduled_time", Reason: "is required for scheduled challenges"}
	}
	seen := make(map[string]struct{}, len(spec.Opponents))
	for _, inv := range spec.Opponents {
		id := strings.TrimSpace(inv.UserID)
		if id == "" {
			return &ValidationError{Field: "opponents", Reason: "opponent user_id is required"}
		}
		if id == strings.TrimSpace(spec.CreatorID) {
			return &ValidationError{Field: "opponents", Reason: "creator cannot be an opponent"}
		}
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "opponents", Reason: "duplicate opponent " + id}
		}
		seen[id] = struct{}{}
	}
	if spec.Level == "" {
		spec.Level = domain.LevelPrimary
	}
	return nil
}

// Accept marks opponentID accepted. Accepting twice is a no-op success.
func (m *Manager) Accept(ctx context.Context, id, opponentID string) (*domain.Challenge, error) {
	opponentID = strings.TrimSpace(opponentID)
	c, err := m.store.Update(ctx, id, func(c *domain.Challenge) error {
		switch c.Status {
		case domain.StatusActive, domain.StatusCancelled:
			return &TransitionError{ChallengeID: id, From: c.Status, To: domain.StatusAccepted}
		}
		idx := c.OpponentIndex(opponentID)
		if idx < 0 {
			return &NotFoundError{ChallengeID: id, OpponentID: opponentID}
		}
		switch c.Opponents[idx].Status {
		case domain.OpponentAccepted:
			return ErrUnchanged
		case domain.OpponentDeclined:
			return &TransitionError{ChallengeID: id, From: c.Status, To: domain.StatusAccepted, Reason: "opponent declined"}
		}
		c.Opponents[idx].Status = domain.OpponentAccepted
		if c.Status == domain.StatusCreated || c.Status == domain.StatusInvited {
			c.Status = domain.StatusAccepted
		}
		c.UpdatedAt = m.clock.Now()
		return nil
	})
	if err != nil {
		return nil, m.mapStoreErr(id, err)
	}
	m.logger.Info("challenge_accept",
		zap.String("challenge_id", id),
		zap.String("opponent_id", opponentID),
		zap.Bool("bot", bot.IsBot(opponentID)),
		zap.String("status", string(c.Status)),
	)
	return c, nil
}

// Decline marks opponentID declined; the challenge itself stays invited.
func (m *Manager) Decline(ctx context.Context, id, opponentID string) (*domain.Challenge, error) {
	opponentID = strings.TrimSpace(opponentID)
	c, err := m.store.Update(ctx, id, func(c *domain.Challenge) error {
		switch c.Status {
		case domain.StatusActive, domain.StatusCancelled:
			return &TransitionError{ChallengeID: id, From: c.Status, To: c.Status, Reason: "decline after start or cancel"}
		}
		idx := c.OpponentIndex(opponentID)
		if idx < 0 {
			return &NotFoundError{ChallengeID: id, OpponentID: opponentID}
		}
		switch c.Opponents[idx].Status {
		case domain.OpponentDeclined:
			return ErrUnchanged
		case domain.OpponentAccepted:
			return &TransitionError{ChallengeID: id, From: c.Status, To: c.Status, Reason: "opponent already accepted"}
		}
		c.Opponents[idx].Status = domain.OpponentDeclined
		c.UpdatedAt = m.clock.Now()
		return nil
	})
	if err != nil {
		return nil, m.mapStoreErr(id, err)
	}
	m.logger.Info("challenge_decline", zap.String("challenge_id", id), zap.String("opponent_id", opponentID))
	return c, nil
}

// Start flips an accepted challenge to active. The acceptance is checked
// against the persisted record inside the compare-and-set, never against
// caller-held state; while it is not visible yet Start re-reads with backoff.
func (m *Manager) Start(ctx context.Context, id string) (StartResult, error) {
	delay := m.retryBase
	for attempt := 0; ; attempt++ {
		res, err := m.tryStart(ctx, id)
		if !errors.Is(err, errNotAccepted) {
			return res, err
		}
		if attempt >= m.startRetries {
			cur, _ := m.store.Get(ctx, id)
			from := domain.StatusCreated
			if cur != nil {
				from = cur.Status
			}
			return StartResult{}, &TransitionError{ChallengeID: id, From: from, To: domain.StatusActive, Reason: "no accepted opponent"}
		}
		m.logger.Debug("challenge_start_wait_accept", zap.String("challenge_id", id), zap.Int("attempt", attempt+1))
		if err := m.sleep(ctx, delay); err != nil {
			return StartResult{}, err
		}
		delay *= 2
	}
}

func (m *Manager) tryStart(ctx context.Context, id string) (StartResult, error) {
	alreadyActive := false
	c, err := m.store.Update(ctx, id, func(c *domain.Challenge) error {
		// the store may rerun this after a lost compare-and-set
		alreadyActive = false
		switch c.Status {
		case domain.StatusActive:
			alreadyActive = true
			return ErrUnchanged
		case domain.StatusCancelled:
			return &TransitionError{ChallengeID: id, From: c.Status, To: domain.StatusActive}
		}
		if c.Type == domain.ChallengeFriend && len(c.Opponents) != 1 {
			return &TransitionError{ChallengeID: id, From: c.Status, To: domain.StatusActive, Reason: "friend challenge needs exactly one opponent"}
		}
		if !c.HasAccepted() {
			return errNotAccepted
		}
		now := m.clock.Now()
		c.Status = domain.StatusActive
		c.StartedAt = &now
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, errNotAccepted) {
			return StartResult{}, err
		}
		return StartResult{}, m.mapStoreErr(id, err)
	}
	if alreadyActive {
		m.logger.Info("challenge_start_noop", zap.String("challenge_id", id))
		return StartResult{Challenge: c, AlreadyActive: true}, nil
	}
	m.logger.Info("challenge_start", zap.String("challenge_id", id), zap.String("creator_id", c.CreatorID))
	m.archiveBestEffort(ctx, c)
	return StartResult{Challenge: c, Started: true}, nil
}

// Cancel is terminal. Cancelling twice is a no-op; cancelling an active
// challenge is rejected.
func (m *Manager) Cancel(ctx context.Context, id string) (*domain.Challenge, error) {
	changed := false
	c, err := m.store.Update(ctx, id, func(c *domain.Challenge) error {
		changed = false
		switch c.Status {
		case domain.StatusCancelled:
			return ErrUnchanged
		case domain.StatusActive:
			return &TransitionError{ChallengeID: id, From: c.Status, To: domain.StatusCancelled, Reason: "already started"}
		}
		now := m.clock.Now()
		c.Status = domain.StatusCancelled
		c.CancelledAt = &now
		c.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, m.mapStoreErr(id, err)
	}
	if changed {
		m.logger.Info("challenge_cancel", zap.String("challenge_id", id))
		m.archiveBestEffort(ctx, c)
	}
	return c, nil
}

// Get returns the current persisted challenge.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	c, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{ChallengeID: id}
	}
	return c, nil
}

// ListByUser returns challenges where userID is creator or opponent, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]*domain.Challenge, error) {
	return m.store.ListByUser(ctx, userID)
}

// ListPending exposes not-yet-started challenges, e.g. for the reaper.
func (m *Manager) ListPending(ctx context.Context) ([]*domain.Challenge, error) {
	return m.store.ListPending(ctx)
}

func (m *Manager) mapStoreErr(id string, err error) error {
	if errors.Is(err, ErrNoRecord) {
		return &NotFoundError{ChallengeID: id}
	}
	return err
}

func (m *Manager) archiveBestEffort(ctx context.Context, c *domain.Challenge) {
	if m.archive == nil || c == nil {
		return
	}
	if err := m.archive.SaveChallenge(ctx, c); err != nil {
		m.logger.Error("challenge_archive_error", zap.String("challenge_id", c.ID), zap.String("status", string(c.Status)), zap.Error(err))
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	t := m.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
