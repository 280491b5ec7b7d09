package presence

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *clockwork.FakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewRedisStore(rdb, WithClock(clk), WithAlwaysOnline(func(id string) bool { return strings.HasPrefix(id, "bot:") }))
	return s, clk
}

func TestIsOnlineWindow(t *testing.T) {
	now := time.Now()
	if !IsOnline(now, now.Add(-119*time.Second)) {
		t.Fatalf("119s ago should be online")
	}
	if IsOnline(now, now.Add(-OnlineWindow)) {
		t.Fatalf("exactly the window should be offline")
	}
	if IsOnline(now, time.Time{}) {
		t.Fatalf("zero last-seen should be offline")
	}
}

func TestTouchAndExpire(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	ok, err := s.IsOnline(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("expected u1 online: ok=%v err=%v", ok, err)
	}

	clk.Advance(OnlineWindow + time.Second)
	ok, err = s.IsOnline(ctx, "u1")
	if err != nil || ok {
		t.Fatalf("expected u1 offline after window: ok=%v err=%v", ok, err)
	}
	ids, err := s.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no online ids, got %v", ids)
	}
}

func TestOnlineIDsMatchesOracle(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Touch(ctx, "old"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	clk.Advance(90 * time.Second)
	if _, err := s.Touch(ctx, "fresh"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	clk.Advance(45 * time.Second)

	ids, err := s.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Fatalf("expected only fresh online, got %v", ids)
	}
	for _, id := range []string{"old", "fresh"} {
		ok, _ := s.IsOnline(ctx, id)
		listed := id == "fresh"
		if ok != listed {
			t.Fatalf("oracle and list disagree for %s: oracle=%v listed=%v", id, ok, listed)
		}
	}
}

func TestBotAlwaysOnline(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.IsOnline(context.Background(), "bot:quiz")
	if err != nil || !ok {
		t.Fatalf("bot should always be online: ok=%v err=%v", ok, err)
	}
}

func TestPrune(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	clk.Advance(25 * time.Hour)
	n, err := s.Prune(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Prune: n=%d err=%v", n, err)
	}
	if _, ok, _ := s.LastSeen(ctx, "u1"); ok {
		t.Fatalf("expected record removed")
	}
}

func TestOnlineIDsWindowEdge(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Touch(ctx, "u1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	clk.Advance(OnlineWindow)

	ids, err := s.OnlineIDs(ctx)
	if err != nil {
		t.Fatalf("OnlineIDs: %v", err)
	}
	ok, _ := s.IsOnline(ctx, "u1")
	if ok || len(ids) != 0 {
		t.Fatalf("a heartbeat exactly OnlineWindow old is stale: oracle=%v ids=%v", ok, ids)
	}
}
