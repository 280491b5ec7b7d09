package challenge

import (
	"errors"
	"fmt"

	"github.com/park285/quiz-duel/internal/domain"
)

var (
	ErrValidation        = errors.New("invalid challenge spec")
	ErrNotFound          = errors.New("challenge not found")
	ErrInvalidTransition = errors.New("invalid challenge state transition")
)

// ValidationError rejects a malformed spec; nothing is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid challenge spec: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError covers a missing challenge or an opponent id that is not
// part of the challenge.
type NotFoundError struct {
	ChallengeID string
	OpponentID  string
}

func (e *NotFoundError) Error() string {
	if e.OpponentID != "" {
		return fmt.Sprintf("opponent %s not found in challenge %s", e.OpponentID, e.ChallengeID)
	}
	return fmt.Sprintf("challenge %s not found", e.ChallengeID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransitionError reports a move the state machine does not allow from From.
type TransitionError struct {
	ChallengeID string
	From        domain.ChallengeStatus
	To          domain.ChallengeStatus
	Reason      string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("challenge %s: cannot move %s -> %s", e.ChallengeID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
