package matching

import (
	"math/rand"
	"strings"

	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/domain"
)

// Rating windows for tiers A and B; tier C has no rating filter.
const (
	TierAWindow = 200
	TierBWindow = 300
)

// Tier names the bucket an opponent was drawn from.
type Tier string

const (
	TierBot Tier = "bot"
	TierA   Tier = "A"
	TierB   Tier = "B"
	TierC   Tier = "C"
)

// Pool is the narrowed set a pick is drawn from.
type Pool struct {
	Tier       Tier
	Players    []domain.Player
	SameSchool bool
	SameLevel  bool
}

// Narrow applies the tier relaxation and the school/level preferences.
// candidates is copied; the caller's slice is never modified.
func Narrow(requester domain.Player, candidates []domain.Player) Pool {
	eligible := make([]domain.Player, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID == requester.UserID || strings.TrimSpace(c.UserID) == "" {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return Pool{Tier: TierBot}
	}

	pool := Pool{Tier: TierA, Players: withinRating(eligible, requester.Rating, TierAWindow)}
	if len(pool.Players) == 0 {
		pool = Pool{Tier: TierB, Players: withinRating(eligible, requester.Rating, TierBWindow)}
	}
	if len(pool.Players) == 0 {
		pool = Pool{Tier: TierC, Players: eligible}
	}

	if sub := prefer(pool.Players, func(p domain.Player) bool { return sameText(p.School, requester.School) }); len(sub) > 0 {
		pool.Players, pool.SameSchool = sub, true
	}
	if sub := prefer(pool.Players, func(p domain.Player) bool { return p.Level == requester.Level }); len(sub) > 0 {
		pool.Players, pool.SameLevel = sub, true
	}
	return pool
}

// FindOpponent never fails: with no eligible human it returns the bot.
func FindOpponent(requester domain.Player, candidates []domain.Player, b *bot.Bot, rng *rand.Rand) domain.Player {
	pool := Narrow(requester, candidates)
	if pool.Tier == TierBot {
		return b.Profile()
	}
	return pick(pool.Players, rng)
}

func withinRating(list []domain.Player, rating, window int) []domain.Player {
	var out []domain.Player
	for _, p := range list {
		if abs(p.Rating-rating) <= window {
			out = append(out, p)
		}
	}
	return out
}

// prefer returns the matching subset; callers keep the original when it is empty.
func prefer(list []domain.Player, keep func(domain.Player) bool) []domain.Player {
	var out []domain.Player
	for _, p := range list {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func sameText(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func pick(list []domain.Player, rng *rand.Rand) domain.Player {
	if len(list) == 1 {
		return list[0]
	}
	if rng == nil {
		return list[rand.Intn(len(list))]
	}
	return list[rng.Intn(len(list))]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
