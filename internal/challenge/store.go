package challenge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/park285/quiz-duel/internal/domain"
)

var (
	// ErrNoRecord is returned by stores when the id is unknown.
	ErrNoRecord = errors.New("challenge record missing")

	// ErrUnchanged lets a mutation skip the write; Update returns the current record.
	ErrUnchanged = errors.New("challenge unchanged")

	// ErrConflict means the compare-and-set kept losing to concurrent writers.
	ErrConflict = errors.New("challenge update conflict")

	ErrDuplicate = errors.New("challenge id already exists")
)

// Store persists challenges. Update is a compare-and-set: mutate sees the
// latest persisted record, and the write only lands if nobody else wrote
// in between.
type Store interface {
	Create(ctx context.Context, c *domain.Challenge) error
	Get(ctx context.Context, id string) (*domain.Challenge, error)
	Update(ctx context.Context, id string, mutate func(*domain.Challenge) error) (*domain.Challenge, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Challenge, error)
	// ListPending returns challenges that have not reached active or cancelled.
	ListPending(ctx context.Context) ([]*domain.Challenge, error)
}

// MemoryStore is the in-process Store used by tests and local runs without Redis.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Challenge
	byUser map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*domain.Challenge),
		byUser: make(map[string][]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, c *domain.Challenge) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.New("challenge id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return ErrDuplicate
	}
	m.byID[c.ID] = c.Clone()
	for _, uid := range c.Participants() {
		m.byUser[uid] = append(m.byUser[uid], c.ID)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, mutate func(*domain.Challenge) error) (*domain.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok {
		return nil, ErrNoRecord
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	next.Version = cur.Version + 1
	m.byID[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byUser[strings.TrimSpace(userID)]
	out := make([]*domain.Challenge, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.byID[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]*domain.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Challenge
	for _, c := range m.byID {
		if pending(c.Status) {
			out = append(out, c.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func pending(s domain.ChallengeStatus) bool {
	return s != domain.StatusActive && s != domain.StatusCancelled
}

func sortNewestFirst(list []*domain.Challenge) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}
