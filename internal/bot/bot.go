package bot

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/park285/quiz-duel/internal/domain"
)

// IDPrefix marks synthetic opponents; human ids never carry it.
const IDPrefix = "bot:"

const (
	defaultName = "Quiz Bot"
	defaultSlug = "quiz-bot"
)

// IsBot is a structural check on the id shape.
func IsBot(userID string) bool {
	return strings.HasPrefix(strings.TrimSpace(userID), IDPrefix)
}

// Bot is an immutable value describing the synthetic opponent.
// It holds no per-match state; difficulty is derived from the requester.
type Bot struct {
	id   string
	name string
}

// New builds the bot; an empty name falls back to the default.
func New(name string) *Bot {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultName
	}
	return &Bot{id: IDPrefix + idSlug(name), name: name}
}

func (b *Bot) ID() string   { return b.id }
func (b *Bot) Name() string { return b.name }

// Profile returns the bot as a Player record.
func (b *Bot) Profile() domain.Player {
	return domain.Player{
		UserID:   b.id,
		UserName: b.name,
		School:   "",
		Rating:   domain.DefaultRating,
	}
}

// AdaptedDifficulty picks a tier for a duel against the requester.
func (b *Bot) AdaptedDifficulty(level domain.Level, xp int, history []Result) Tier {
	return AdaptedDifficulty(level, xp, history)
}

// idSlug transliterates non-latin names so ids stay ascii.
func idSlug(name string) string {
	if s := slug.Make(name); s != "" {
		return s
	}
	return defaultSlug
}
