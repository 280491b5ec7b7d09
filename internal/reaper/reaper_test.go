package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/challenge"
	"github.com/park285/quiz-duel/internal/domain"
)

type countingPruner struct{ calls int }

func (p *countingPruner) Prune(context.Context) (int64, error) {
	p.calls++
	return 0, nil
}

func spec(creator, opponent string) challenge.Spec {
	return challenge.Spec{
		Type:          domain.ChallengeQuick,
		QuestionCount: 10,
		TimeLimit:     15,
		CreatorID:     creator,
		Opponents:     []challenge.Invitee{{UserID: opponent}},
	}
}

func TestSweepCancelsStale(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mgr := challenge.NewManager(challenge.NewMemoryStore(), challenge.WithClock(clk), challenge.WithStartRetries(0, time.Millisecond))
	ctx := context.Background()

	stale, _ := mgr.Create(ctx, spec("u1", "u2"))
	accepted, _ := mgr.Create(ctx, spec("u3", "u4"))
	_, _ = mgr.Accept(ctx, accepted.ID, "u4")
	started, _ := mgr.Create(ctx, spec("u5", "u6"))
	_, _ = mgr.Accept(ctx, started.ID, "u6")
	if _, err := mgr.Start(ctx, started.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk.Advance(90 * time.Second)
	fresh, _ := mgr.Create(ctx, spec("u7", "u8"))
	clk.Advance(31 * time.Second)

	pr := &countingPruner{}
	r := New(mgr, time.Second, 2*time.Minute, WithClock(clk), WithPruner(pr))
	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reaped, got %d", n)
	}
	for id, want := range map[string]domain.ChallengeStatus{
		stale.ID:    domain.StatusCancelled,
		accepted.ID: domain.StatusCancelled,
		started.ID:  domain.StatusActive,
		fresh.ID:    domain.StatusInvited,
	} {
		c, _ := mgr.Get(ctx, id)
		if c.Status != want {
			t.Fatalf("%s: want %s got %s", id, want, c.Status)
		}
	}
	if pr.calls != 1 {
		t.Fatalf("prune calls: %d", pr.calls)
	}
}

func TestSweepScheduledAgesFromScheduledTime(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mgr := challenge.NewManager(challenge.NewMemoryStore(), challenge.WithClock(clk))
	ctx := context.Background()

	at := clk.Now().Add(time.Hour)
	s := spec("u1", "u2")
	s.Type = domain.ChallengeScheduled
	s.ScheduledTime = &at
	c, err := mgr.Create(ctx, s)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(10 * time.Minute)

	r := New(mgr, time.Second, 2*time.Minute, WithClock(clk))
	if n, _ := r.Sweep(ctx); n != 0 {
		t.Fatalf("future scheduled challenge reaped")
	}
	clk.Advance(time.Hour)
	if n, _ := r.Sweep(ctx); n != 1 {
		t.Fatalf("expired scheduled challenge kept")
	}
	got, _ := mgr.Get(ctx, c.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestStartRunsJob(t *testing.T) {
	mgr := challenge.NewManager(challenge.NewMemoryStore())
	ctx := context.Background()
	c, _ := mgr.Create(ctx, spec("u1", "u2"))

	r := New(mgr, 20*time.Millisecond, time.Millisecond)
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := mgr.Get(ctx, c.ID)
		if got.Status == domain.StatusCancelled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scheduled sweep never cancelled the challenge")
}
