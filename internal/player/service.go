package player

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/domain"
	"go.uber.org/zap"
)

// Service fronts the Store with lazy creation.
type Service struct {
	store  Store
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewService(store Store, clock clockwork.Clock, logger *zap.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

func (s *Service) Get(ctx context.Context, userID string) (*domain.Player, error) {
	return s.store.Get(ctx, userID)
}

// Ensure returns the stored player, creating a default-rated one on first
// appearance. Non-empty name/school/level refresh the stored profile.
func (s *Service) Ensure(ctx context.Context, userID, userName, school string, level domain.Level) (*domain.Player, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidPlayer
	}
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", userID, err)
	}
	now := s.clock.Now()
	if p == nil {
		if level == "" {
			level = domain.LevelPrimary
		}
		p = domain.NewPlayer(userID, userName, school, level)
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := s.store.Upsert(ctx, p); err != nil {
			return nil, fmt.Errorf("create player %s: %w", userID, err)
		}
		s.logger.Info("player_created", zap.String("user_id", userID), zap.String("level", string(level)))
		return p, nil
	}

	changed := false
	if n := strings.TrimSpace(userName); n != "" && n != p.UserName {
		p.UserName, changed = n, true
	}
	if sc := strings.TrimSpace(school); sc != "" && sc != p.School {
		p.School, changed = sc, true
	}
	if level != "" && level != p.Level {
		p.Level, changed = level, true
	}
	if changed {
		p.UpdatedAt = now
		if err := s.store.Upsert(ctx, p); err != nil {
			return nil, fmt.Errorf("update player %s: %w", userID, err)
		}
	}
	return p, nil
}

// Lookup loads the given ids, skipping unknown ones.
func (s *Service) Lookup(ctx context.Context, ids []string) ([]domain.Player, error) {
	out := make([]domain.Player, 0, len(ids))
	for _, id := range ids {
		p, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
