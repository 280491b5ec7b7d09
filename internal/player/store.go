package player

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/park285/quiz-duel/internal/domain"
)

var ErrInvalidPlayer = errors.New("player user_id is required")

// Store persists player records. Get returns (nil, nil) when the id is unknown.
type Store interface {
	Get(ctx context.Context, userID string) (*domain.Player, error)
	Upsert(ctx context.Context, p *domain.Player) error
}

// memoryStore is used when no DATABASE_URL is configured.
type memoryStore struct {
	mu      sync.RWMutex
	players map[string]*domain.Player
}

func NewMemoryStore() Store {
	return &memoryStore{players: make(map[string]*domain.Player)}
}

func (m *memoryStore) Get(_ context.Context, userID string) (*domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[strings.TrimSpace(userID)]
	if !ok || p == nil {
		return nil, nil
	}
	return clonePlayer(p), nil
}

func (m *memoryStore) Upsert(_ context.Context, p *domain.Player) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidPlayer
	}
	m.mu.Lock()
	m.players[strings.TrimSpace(p.UserID)] = clonePlayer(p)
	m.mu.Unlock()
	return nil
}

func clonePlayer(p *domain.Player) *domain.Player {
	cp := *p
	cp.Achievements = append([]string(nil), p.Achievements...)
	return &cp
}
