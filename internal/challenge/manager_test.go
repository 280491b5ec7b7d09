package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ch-%03d", n)
	}
}

func newTestManager(store Store, opts ...Option) *Manager {
	base := []Option{
		WithIDGenerator(sequentialIDs()),
		WithStartRetries(2, time.Millisecond),
	}
	return NewManager(store, append(base, opts...)...)
}

func quickSpec(creator string, opponents ...string) Spec {
	s := Spec{
		Type:          domain.ChallengeQuick,
		Level:         domain.LevelJHS,
		Subject:       "math",
		Difficulty:    "jhs",
		QuestionCount: 10,
		TimeLimit:     15,
		CreatorID:     creator,
		CreatorName:   creator,
	}
	for _, o := range opponents {
		s.Opponents = append(s.Opponents, Invitee{UserID: o, UserName: o})
	}
	return s
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []domain.ChallengeStatus
}

func (r *recordingArchive) SaveChallenge(_ context.Context, c *domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, c.Status)
	return nil
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()

	cases := map[string]Spec{
		"missing creator": quickSpec(""),
		"zero questions": func() Spec {
			s := quickSpec("u1", "u2")
			s.QuestionCount = 0
			return s
		}(),
		"friend with two": func() Spec {
			s := quickSpec("u1", "u2", "u3")
			s.Type = domain.ChallengeFriend
			s.MaxPlayers = 3
			return s
		}(),
		"scheduled without time": func() Spec {
			s := quickSpec("u1", "u2")
			s.Type = domain.ChallengeScheduled
			return s
		}(),
		"self opponent": quickSpec("u1", "u1"),
		"too many":      quickSpec("u1", "u2", "u3"),
		"unknown type": func() Spec {
			s := quickSpec("u1", "u2")
			s.Type = "ranked"
			return s
		}(),
	}
	for name, spec := range cases {
		if _, err := m.Create(ctx, spec); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	list, _ := m.ListByUser(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("rejected specs must not persist, got %d", len(list))
	}
}

func TestCreateStatus(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()

	c, err := m.Create(ctx, quickSpec("u1", "u2"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != domain.StatusInvited || c.Opponents[0].Status != domain.OpponentInvited {
		t.Fatalf("expected invited, got %s/%s", c.Status, c.Opponents[0].Status)
	}
	if c.MaxPlayers != 2 {
		t.Fatalf("max players default: %d", c.MaxPlayers)
	}

	solo := quickSpec("u3")
	solo.Type = domain.ChallengeFriend
	c2, err := m.Create(ctx, solo)
	if err != nil {
		t.Fatalf("Create solo: %v", err)
	}
	if c2.Status != domain.StatusCreated {
		t.Fatalf("no opponents should stay created, got %s", c2.Status)
	}
}

func TestAcceptIdempotent(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	a1, err := m.Accept(ctx, c.ID, "u2")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	a2, err := m.Accept(ctx, c.ID, "u2")
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if a1.Status != domain.StatusAccepted || a2.Status != domain.StatusAccepted {
		t.Fatalf("expected accepted, got %s then %s", a1.Status, a2.Status)
	}
	if a2.Version != a1.Version {
		t.Fatalf("second accept must not write: v%d -> v%d", a1.Version, a2.Version)
	}
	if a2.Opponents[0].Status != domain.OpponentAccepted {
		t.Fatalf("opponent status: %s", a2.Opponents[0].Status)
	}
}

func TestAcceptUnknown(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	if _, err := m.Accept(ctx, c.ID, "u9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("uninvited opponent: expected not found, got %v", err)
	}
	if _, err := m.Accept(ctx, "nope", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing challenge: expected not found, got %v", err)
	}
	if _, err := m.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: expected not found, got %v", err)
	}
}

func TestStartRequiresAcceptance(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	_, err := m.Start(ctx, c.ID)
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != domain.StatusInvited {
		t.Fatalf("from: %s", te.From)
	}
	cur, _ := m.Get(ctx, c.ID)
	if cur.Status != domain.StatusInvited {
		t.Fatalf("failed start must not change status: %s", cur.Status)
	}
}

func TestAcceptThenStart(t *testing.T) {
	arch := &recordingArchive{}
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := newTestManager(NewMemoryStore(), WithClock(clk))
	m.AttachArchive(arch)
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "bot:quiz-bot"))

	if _, err := m.Accept(ctx, c.ID, "bot:quiz-bot"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	clk.Advance(time.Second)
	res, err := m.Start(ctx, c.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.Started || res.AlreadyActive {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Challenge.Status != domain.StatusActive || res.Challenge.StartedAt == nil {
		t.Fatalf("expected active with started_at, got %+v", res.Challenge)
	}
	if !res.Challenge.StartedAt.Equal(clk.Now()) {
		t.Fatalf("started_at: %v", res.Challenge.StartedAt)
	}

	again, err := m.Start(ctx, c.ID)
	if err != nil || !again.AlreadyActive || again.Started {
		t.Fatalf("second start should be a no-op: %+v err=%v", again, err)
	}
	if len(arch.saved) != 1 || arch.saved[0] != domain.StatusActive {
		t.Fatalf("archive calls: %v", arch.saved)
	}
}

// lagStore hides acceptances for the first n Update calls, like a reader
// that has not observed the latest write yet.
type lagStore struct {
	*MemoryStore
	mu  sync.Mutex
	lag int
}

func (s *lagStore) Update(ctx context.Context, id string, mutate func(*domain.Challenge) error) (*domain.Challenge, error) {
	s.mu.Lock()
	stale := s.lag > 0
	if stale {
		s.lag--
	}
	s.mu.Unlock()
	if !stale {
		return s.MemoryStore.Update(ctx, id, mutate)
	}
	cur, err := s.MemoryStore.Get(ctx, id)
	if err != nil || cur == nil {
		return nil, ErrNoRecord
	}
	for i := range cur.Opponents {
		cur.Opponents[i].Status = domain.OpponentInvited
	}
	cur.Status = domain.StatusInvited
	if err := mutate(cur); err != nil && !errors.Is(err, ErrUnchanged) {
		return nil, err
	}
	return nil, ErrConflict
}

// rerunStore replays mutate on a throwaway copy first, then lets race
// touch the record, like a WATCH that lost to a concurrent writer.
type rerunStore struct {
	*MemoryStore
	race func(id string)
}

func (s *rerunStore) Update(ctx context.Context, id string, mutate func(*domain.Challenge) error) (*domain.Challenge, error) {
	if cur, _ := s.MemoryStore.Get(ctx, id); cur != nil {
		_ = mutate(cur)
	}
	if s.race != nil {
		race := s.race
		s.race = nil
		race(id)
	}
	return s.MemoryStore.Update(ctx, id, mutate)
}

func TestCancelRerunAfterLostRace(t *testing.T) {
	arch := &recordingArchive{}
	rs := &rerunStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(rs)
	m.AttachArchive(arch)
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	rs.race = func(id string) {
		_, _ = rs.MemoryStore.Update(ctx, id, func(c *domain.Challenge) error {
			c.Status = domain.StatusCancelled
			return nil
		})
	}
	got, err := m.Cancel(ctx, c.ID)
	if err != nil || got.Status != domain.StatusCancelled {
		t.Fatalf("Cancel: %+v err=%v", got, err)
	}
	if len(arch.saved) != 0 {
		t.Fatalf("the losing cancel must not archive: %v", arch.saved)
	}
}

func TestStartRerunAfterLostRace(t *testing.T) {
	rs := &rerunStore{MemoryStore: NewMemoryStore()}
	m := newTestManager(rs)
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))
	if _, err := m.Accept(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	res, err := m.Start(ctx, c.ID)
	if err != nil || !res.Started || res.AlreadyActive {
		t.Fatalf("rerun start should win cleanly: %+v err=%v", res, err)
	}
}

func TestStartRetriesUntilAcceptanceVisible(t *testing.T) {
	ls := &lagStore{MemoryStore: NewMemoryStore()}
	m := NewManager(ls, WithIDGenerator(sequentialIDs()), WithStartRetries(3, time.Millisecond))
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))
	if _, err := m.Accept(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	ls.lag = 2
	res, err := m.Start(ctx, c.ID)
	if err != nil || !res.Started {
		t.Fatalf("Start after lag: %+v err=%v", res, err)
	}
}

func TestStartGivesUpAfterRetries(t *testing.T) {
	ls := &lagStore{MemoryStore: NewMemoryStore()}
	m := NewManager(ls, WithIDGenerator(sequentialIDs()), WithStartRetries(3, time.Millisecond))
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))
	if _, err := m.Accept(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	ls.lag = 10
	if _, err := m.Start(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	cur, _ := ls.MemoryStore.Get(ctx, c.ID)
	if cur.Status != domain.StatusAccepted {
		t.Fatalf("status must stay accepted: %s", cur.Status)
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	m := newTestManager(newRedisStore(t))
	ctx := context.Background()
	c, err := m.Create(ctx, quickSpec("u1", "u2"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Accept(ctx, c.ID, "u2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	const n = 6
	var wg sync.WaitGroup
	results := make([]StartResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Start(ctx, c.ID)
		}(i)
	}
	wg.Wait()

	started, noop := 0, 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("start %d: %v", i, errs[i])
		}
		if results[i].Started {
			started++
		}
		if results[i].AlreadyActive {
			noop++
		}
	}
	if started != 1 || noop != n-1 {
		t.Fatalf("expected one winner, got started=%d noop=%d", started, noop)
	}
}

func TestConcurrentAcceptAndStartRedis(t *testing.T) {
	m := newTestManager(newRedisStore(t), WithStartRetries(5, 2*time.Millisecond))
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	var wg sync.WaitGroup
	var startRes StartResult
	var startErr, acceptErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = m.Accept(ctx, c.ID, "u2")
	}()
	go func() {
		defer wg.Done()
		startRes, startErr = m.Start(ctx, c.ID)
	}()
	wg.Wait()

	if acceptErr != nil {
		t.Fatalf("Accept: %v", acceptErr)
	}
	if startErr != nil || !startRes.Started {
		t.Fatalf("Start should observe the acceptance: %+v err=%v", startRes, startErr)
	}
	cur, _ := m.Get(ctx, c.ID)
	if cur.Status != domain.StatusActive || !cur.HasAccepted() {
		t.Fatalf("final state: %s accepted=%v", cur.Status, cur.HasAccepted())
	}
}

func TestCancel(t *testing.T) {
	arch := &recordingArchive{}
	m := newTestManager(NewMemoryStore())
	m.AttachArchive(arch)
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	got, err := m.Cancel(ctx, c.ID)
	if err != nil || got.Status != domain.StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("Cancel: %+v err=%v", got, err)
	}
	if _, err := m.Cancel(ctx, c.ID); err != nil {
		t.Fatalf("second cancel should be a no-op: %v", err)
	}
	if _, err := m.Accept(ctx, c.ID, "u2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after cancel: %v", err)
	}
	if _, err := m.Start(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start after cancel: %v", err)
	}
	if len(arch.saved) != 1 || arch.saved[0] != domain.StatusCancelled {
		t.Fatalf("archive calls: %v", arch.saved)
	}
}

func TestCancelActiveRejected(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))
	_, _ = m.Accept(ctx, c.ID, "u2")
	if _, err := m.Start(ctx, c.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Cancel(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel active: %v", err)
	}
}

func TestDecline(t *testing.T) {
	m := newTestManager(NewMemoryStore())
	ctx := context.Background()
	c, _ := m.Create(ctx, quickSpec("u1", "u2"))

	got, err := m.Decline(ctx, c.ID, "u2")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got.Status != domain.StatusInvited || got.Opponents[0].Status != domain.OpponentDeclined {
		t.Fatalf("unexpected: %s/%s", got.Status, got.Opponents[0].Status)
	}
	if _, err := m.Accept(ctx, c.ID, "u2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after decline: %v", err)
	}
	if _, err := m.Start(ctx, c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start after decline: %v", err)
	}
}

func TestListByUser(t *testing.T) {
	for name, store := range map[string]Store{"memory": NewMemoryStore(), "redis": newRedisStore(t)} {
		clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
		m := newTestManager(store, WithClock(clk))
		ctx := context.Background()

		first, _ := m.Create(ctx, quickSpec("u1", "u2"))
		clk.Advance(time.Second)
		second, _ := m.Create(ctx, quickSpec("u3", "u1"))
		clk.Advance(time.Second)
		_, _ = m.Create(ctx, quickSpec("u3", "u4"))

		list, err := m.ListByUser(ctx, "u1")
		if err != nil {
			t.Fatalf("%s ListByUser: %v", name, err)
		}
		if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
			t.Fatalf("%s: unexpected list %+v", name, list)
		}

		_, _ = m.Cancel(ctx, first.ID)
		pending, err := m.ListPending(ctx)
		if err != nil {
			t.Fatalf("%s ListPending: %v", name, err)
		}
		if len(pending) != 2 {
			t.Fatalf("%s: pending %d", name, len(pending))
		}
	}
}
