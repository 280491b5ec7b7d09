package domain

import "time"

// ChallengeType distinguishes how a duel was set up.
type ChallengeType string

const (
	ChallengeQuick     ChallengeType = "quick"
	ChallengeFriend    ChallengeType = "friend"
	ChallengeScheduled ChallengeType = "scheduled"
)

// Valid reports whether t is one of the known types.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeQuick, ChallengeFriend, ChallengeScheduled:
		return true
	}
	return false
}

// ChallengeStatus is the lifecycle state of a duel.
type ChallengeStatus string

const (
	StatusCreated   ChallengeStatus = "created"
	StatusInvited   ChallengeStatus = "invited"
	StatusAccepted  ChallengeStatus = "accepted"
	StatusActive    ChallengeStatus = "active"
	StatusCancelled ChallengeStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s ChallengeStatus) Terminal() bool { return s == StatusCancelled }

// OpponentStatus is the per-opponent invitation state.
type OpponentStatus string

const (
	OpponentInvited  OpponentStatus = "invited"
	OpponentAccepted OpponentStatus = "accepted"
	OpponentDeclined OpponentStatus = "declined"
)

// Opponent is one invited participant of a challenge.
type Opponent struct {
	UserID   string         `json:"user_id"`
	UserName string         `json:"user_name"`
	School   string         `json:"school"`
	Status   OpponentStatus `json:"status"`
}

// Challenge is the persisted state of one duel.
type Challenge struct {
	ID            string          `json:"id"`
	Type          ChallengeType   `json:"type"`
	Level         Level           `json:"level"`
	Subject       string          `json:"subject"`
	Difficulty    string          `json:"difficulty"`
	QuestionCount int             `json:"question_count"`
	TimeLimit     int             `json:"time_limit"`
	CreatorID     string          `json:"creator_id"`
	CreatorName   string          `json:"creator_name"`
	CreatorSchool string          `json:"creator_school"`
	Opponents     []Opponent      `json:"opponents"`
	MaxPlayers    int             `json:"max_players"`
	ScheduledTime *time.Time      `json:"scheduled_time,omitempty"`
	Status        ChallengeStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	Version       int64           `json:"version"`
}

// OpponentIndex returns the index of userID among the opponents or -1.
func (c *Challenge) OpponentIndex(userID string) int {
	for i := range c.Opponents {
		if c.Opponents[i].UserID == userID {
			return i
		}
	}
	return -1
}

// HasAccepted reports whether at least one opponent accepted.
func (c *Challenge) HasAccepted() bool {
	for _, o := range c.Opponents {
		if o.Status == OpponentAccepted {
			return true
		}
	}
	return false
}

// Participants returns creator and opponent ids, creator first.
func (c *Challenge) Participants() []string {
	ids := make([]string, 0, len(c.Opponents)+1)
	ids = append(ids, c.CreatorID)
	for _, o := range c.Opponents {
		ids = append(ids, o.UserID)
	}
	return ids
}

// Clone returns a deep copy so callers never share slices with a store.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Opponents = append([]Opponent(nil), c.Opponents...)
	if c.ScheduledTime != nil {
		t := *c.ScheduledTime
		cp.ScheduledTime = &t
	}
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CancelledAt != nil {
		t := *c.CancelledAt
		cp.CancelledAt = &t
	}
	return &cp
}
