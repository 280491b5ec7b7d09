package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/domain"
)

type stubOnline struct {
	ids []string
	err error
}

func (s *stubOnline) OnlineIDs(context.Context) ([]string, error) { return s.ids, s.err }

type stubLookup struct {
	known map[string]domain.Player
	asked []string
}

func (s *stubLookup) Lookup(_ context.Context, ids []string) ([]domain.Player, error) {
	s.asked = append([]string(nil), ids...)
	var out []domain.Player
	for _, id := range ids {
		if p, ok := s.known[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func TestPresenceSourcePoll(t *testing.T) {
	hub := NewHub()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	online := &stubOnline{ids: []string{"u1", "bot:quiz-bot", "u2", "ghost"}}
	lookup := &stubLookup{known: map[string]domain.Player{
		"u1": {UserID: "u1", Rating: 1200},
		"u2": {UserID: "u2", Rating: 1400},
	}}
	src := NewPresenceSource(hub, online, lookup, time.Second, clk, nil)

	if err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	for _, id := range lookup.asked {
		if id == "bot:quiz-bot" {
			t.Fatalf("bots must not be looked up")
		}
	}
	snap, err := hub.Snapshot(context.Background())
	if err != nil || len(snap) != 2 {
		t.Fatalf("snapshot: %+v err=%v", snap, err)
	}
	if !hub.UpdatedAt().Equal(clk.Now()) {
		t.Fatalf("updated_at: %v", hub.UpdatedAt())
	}
}

func TestPresenceSourceErrorMarksUnavailable(t *testing.T) {
	hub := NewHub()
	online := &stubOnline{err: errors.New("dial tcp: refused")}
	src := NewPresenceSource(hub, online, &stubLookup{}, time.Second, nil, nil)

	if err := src.Poll(context.Background()); err == nil {
		t.Fatalf("expected poll error")
	}
	if _, err := hub.Snapshot(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	online.err = nil
	online.ids = nil
	if err := src.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if _, err := hub.Snapshot(context.Background()); err != nil {
		t.Fatalf("hub should recover: %v", err)
	}
}
