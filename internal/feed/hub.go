package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/quiz-duel/internal/domain"
)

// ErrUnavailable is returned by Snapshot while the upstream feed is failing.
var ErrUnavailable = errors.New("candidate feed unavailable")

// Source yields the current online candidate set.
type Source interface {
	Snapshot(ctx context.Context) ([]domain.Player, error)
}

// Hub holds the latest candidate snapshot and fans it out to subscribers.
// Every reader gets its own copy; nobody shares the backing slice.
type Hub struct {
	mu        sync.RWMutex
	players   []domain.Player
	updatedAt time.Time
	lastErr   error
	subs      map[chan []domain.Player]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []domain.Player]struct{})}
}

// Publish replaces the snapshot and clears any unavailable state.
func (h *Hub) Publish(players []domain.Player, at time.Time) {
	h.mu.Lock()
	h.players = copyPlayers(players)
	h.updatedAt = at
	h.lastErr = nil
	for ch := range h.subs {
		select {
		case ch <- copyPlayers(players):
		default:
			// slow subscriber; it will catch the next one
		}
	}
	h.mu.Unlock()
}

// MarkUnavailable makes Snapshot fail until the next Publish.
func (h *Hub) MarkUnavailable(err error) {
	if err == nil {
		err = ErrUnavailable
	}
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

func (h *Hub) Snapshot(_ context.Context) ([]domain.Player, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastErr != nil {
		return nil, errors.Join(ErrUnavailable, h.lastErr)
	}
	return copyPlayers(h.players), nil
}

// UpdatedAt is the time of the last successful Publish.
func (h *Hub) UpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updatedAt
}

// Subscribe returns a channel of future snapshots and its cancel func.
func (h *Hub) Subscribe() (<-chan []domain.Player, func()) {
	ch := make(chan []domain.Player, 4)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func copyPlayers(in []domain.Player) []domain.Player {
	out := make([]domain.Player, len(in))
	copy(out, in)
	for i := range out {
		out[i].Achievements = append([]string(nil), in[i].Achievements...)
	}
	return out
}
