package quickmatch

import (
	"context"
	"errors"
	"sync"

	"github.com/park285/quiz-duel/internal/domain"
)

var (
	// ErrCancelled resolves a ticket whose challenge was cancelled before it started.
	ErrCancelled = errors.New("quick match cancelled")

	// ErrAlreadyStarted is returned by Cancel once the challenge is active.
	ErrAlreadyStarted = errors.New("quick match already started")
)

// MatchOutcome is what a resolved ticket yields.
type MatchOutcome struct {
	Opponent  domain.Player
	Challenge *domain.Challenge
}

// Ticket tracks one quick-match request from pairing to start.
type Ticket struct {
	challengeID string
	requester   domain.Player
	opponent    domain.Player
	bot         bool

	ticks    chan int
	cancelCh chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	remaining int
	outcome   MatchOutcome
	err       error
	resolved  bool

	orch *Orchestrator
}

func newTicket(o *Orchestrator, c *domain.Challenge, requester, opponent domain.Player, isBot bool) *Ticket {
	return &Ticket{
		challengeID: c.ID,
		requester:   requester,
		opponent:    opponent,
		bot:         isBot,
		ticks:       make(chan int, 16),
		cancelCh:    make(chan struct{}),
		done:        make(chan struct{}),
		outcome:     MatchOutcome{Opponent: opponent, Challenge: c},
		orch:        o,
	}
}

// ChallengeID is the id of the quick challenge behind the ticket.
func (t *Ticket) ChallengeID() string { return t.challengeID }

func (t *Ticket) Requester() domain.Player { return t.requester }

func (t *Ticket) Opponent() domain.Player { return t.opponent }

// AgainstBot reports whether the match was resolved by the bot fallback.
func (t *Ticket) AgainstBot() bool { return t.bot }

// Ticks delivers the remaining whole seconds of the countdown. It is closed
// when the countdown ends; bot matches get a closed channel.
func (t *Ticket) Ticks() <-chan int { return t.ticks }

// Done is closed once the ticket resolved.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Remaining is the last published countdown value.
func (t *Ticket) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Result returns the outcome if the ticket resolved.
func (t *Ticket) Result() (outcome MatchOutcome, resolved bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.resolved, t.err
}

// Wait blocks until the ticket resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (MatchOutcome, error) {
	select {
	case <-ctx.Done():
		return MatchOutcome{}, ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.err
}

// Cancel cancels the challenge while the countdown runs. Cancelling a
// cancelled ticket is a no-op; once started it returns ErrAlreadyStarted.
func (t *Ticket) Cancel(ctx context.Context) error {
	if outcome, ok, err := t.Result(); ok {
		if errors.Is(err, ErrCancelled) {
			return nil
		}
		if outcome.Challenge != nil && outcome.Challenge.Status == domain.StatusActive {
			return ErrAlreadyStarted
		}
	}
	return t.orch.cancelTicket(ctx, t)
}

func (t *Ticket) publish(remaining int) {
	t.mu.Lock()
	t.remaining = remaining
	t.mu.Unlock()
	select {
	case t.ticks <- remaining:
	default:
		// nobody listening; Remaining still has it
	}
}

func (t *Ticket) stopCountdown() {
	t.stopOnce.Do(func() { close(t.cancelCh) })
}

// resolve records the first outcome; later calls are ignored.
func (t *Ticket) resolve(c *domain.Challenge, err error) bool {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return false
	}
	t.resolved = true
	t.err = err
	if c != nil {
		t.outcome.Challenge = c
	}
	t.mu.Unlock()
	t.stopCountdown()
	close(t.done)
	return true
}
