package domain

import (
	"strings"
	"time"
)

// DefaultRating is assigned to players created lazily on first appearance.
const DefaultRating = 1200

// Level is the school band a learner belongs to.
type Level string

const (
	LevelPrimary Level = "Primary"
	LevelJHS     Level = "JHS"
	LevelSHS     Level = "SHS"
)

// ParseLevel accepts case-insensitive names and falls back to Primary.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JHS":
		return LevelJHS
	case "SHS":
		return LevelSHS
	default:
		return LevelPrimary
	}
}

// Player is the identity and ranking record of a learner (or the bot).
type Player struct {
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	School        string    `json:"school"`
	Level         Level     `json:"level"`
	Rating        int       `json:"rating"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Draws         int       `json:"draws"`
	TotalGames    int       `json:"total_games"`
	WinStreak     int       `json:"win_streak"`
	HighestStreak int       `json:"highest_streak"`
	XP            int       `json:"xp"`
	Achievements  []string  `json:"achievements,omitempty"`
	Coins         int       `json:"coins"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewPlayer returns a player with the default rating.
func NewPlayer(userID, userName, school string, level Level) *Player {
	return &Player{
		UserID:   strings.TrimSpace(userID),
		UserName: strings.TrimSpace(userName),
		School:   strings.TrimSpace(school),
		Level:    level,
		Rating:   DefaultRating,
	}
}

// PresenceRecord is the liveness signal for a user.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}
