package bot

import "github.com/park285/quiz-duel/internal/domain"

// Tier is the question difficulty the bot plays at.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
	TierExpert Tier = "expert"
)

var tierOrder = []Tier{TierEasy, TierMedium, TierHard, TierExpert}

// Result is a past duel outcome from the requester's point of view.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

const (
	xpStepOne   = 2000
	xpStepTwo   = 8000
	recentGames = 5
	streakShift = 4
)

// AdaptedDifficulty: level sets the base, xp nudges it up, and the last
// five results shift it one step either way. history is oldest first.
func AdaptedDifficulty(level domain.Level, xp int, history []Result) Tier {
	idx := 0
	switch level {
	case domain.LevelJHS:
		idx = 1
	case domain.LevelSHS:
		idx = 2
	}
	if xp >= xpStepOne {
		idx++
	}
	if xp >= xpStepTwo {
		idx++
	}

	recent := history
	if len(recent) > recentGames {
		recent = recent[len(recent)-recentGames:]
	}
	wins, losses := 0, 0
	for _, r := range recent {
		switch r {
		case ResultWin:
			wins++
		case ResultLoss:
			losses++
		}
	}
	if wins >= streakShift {
		idx++
	} else if losses >= streakShift {
		idx--
	}
	return tierAt(idx)
}

// ApproxRating maps a tier onto the rating scale players use.
func (t Tier) ApproxRating() int {
	switch t {
	case TierEasy:
		return 900
	case TierMedium:
		return 1200
	case TierHard:
		return 1500
	case TierExpert:
		return 1800
	default:
		return domain.DefaultRating
	}
}

// HistoryFromPlayer derives a result history from the player's own record.
// Only the current win streak is ordered, so that is what gets replayed.
func HistoryFromPlayer(p domain.Player) []Result {
	n := p.WinStreak
	if n > recentGames {
		n = recentGames
	}
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ResultWin)
	}
	return out
}

func tierAt(idx int) Tier {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(tierOrder) {
		idx = len(tierOrder) - 1
	}
	return tierOrder[idx]
}
