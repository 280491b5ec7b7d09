package player

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/park285/quiz-duel/internal/domain"
)

const playerSchema = `CREATE TABLE IF NOT EXISTS duel_players (
  user_id        TEXT PRIMARY KEY,
  user_name      TEXT NOT NULL DEFAULT '',
  school         TEXT NOT NULL DEFAULT '',
  level          TEXT NOT NULL DEFAULT 'Primary',
  rating         INT NOT NULL DEFAULT 1200,
  wins           INT NOT NULL DEFAULT 0,
  losses         INT NOT NULL DEFAULT 0,
  draws          INT NOT NULL DEFAULT 0,
  total_games    INT NOT NULL DEFAULT 0,
  win_streak     INT NOT NULL DEFAULT 0,
  highest_streak INT NOT NULL DEFAULT 0,
  xp             INT NOT NULL DEFAULT 0,
  achievements   JSONB NOT NULL DEFAULT '[]'::jsonb,
  coins          INT NOT NULL DEFAULT 0,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type repository struct {
	db *sql.DB
}

// NewRepository wraps an open Postgres handle (lib/pq driver).
func NewRepository(db *sql.DB) Store {
	return &repository{db: db}
}

// EnsureSchema creates duel_players when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, playerSchema); err != nil {
		return fmt.Errorf("create duel_players: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, userID string) (*domain.Player, error) {
	const query = `
		SELECT
			user_id,
			user_name,
			school,
			level,
			rating,
			wins,
			losses,
			draws,
			total_games,
			win_streak,
			highest_streak,
			xp,
			achievements,
			coins,
			created_at,
			updated_at
		FROM duel_players
		WHERE user_id = $1
		LIMIT 1`

	var (
		p            domain.Player
		level        string
		achievements []byte
	)
	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(userID)).Scan(
		&p.UserID,
		&p.UserName,
		&p.School,
		&level,
		&p.Rating,
		&p.Wins,
		&p.Losses,
		&p.Draws,
		&p.TotalGames,
		&p.WinStreak,
		&p.HighestStreak,
		&p.XP,
		&achievements,
		&p.Coins,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select duel player: %w", err)
	}
	p.Level = domain.ParseLevel(level)
	if len(achievements) > 0 {
		if err := json.Unmarshal(achievements, &p.Achievements); err != nil {
			return nil, fmt.Errorf("decode achievements: %w", err)
		}
	}
	return &p, nil
}

func (r *repository) Upsert(ctx context.Context, p *domain.Player) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidPlayer
	}
	achievements := p.Achievements
	if achievements == nil {
		achievements = []string{}
	}
	achievementsRaw, err := json.Marshal(achievements)
	if err != nil {
		return fmt.Errorf("marshal achievements: %w", err)
	}
	const query = `
		INSERT INTO duel_players (
			user_id,
			user_name,
			school,
			level,
			rating,
			wins,
			losses,
			draws,
			total_games,
			win_streak,
			highest_streak,
			xp,
			achievements,
			coins,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, NOW(), NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			user_name = EXCLUDED.user_name,
			school = EXCLUDED.school,
			level = EXCLUDED.level,
			rating = EXCLUDED.rating,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			total_games = EXCLUDED.total_games,
			win_streak = EXCLUDED.win_streak,
			highest_streak = EXCLUDED.highest_streak,
			xp = EXCLUDED.xp,
			achievements = EXCLUDED.achievements,
			coins = EXCLUDED.coins,
			updated_at = NOW()`

	_, err = r.db.ExecContext(
		ctx,
		query,
		strings.TrimSpace(p.UserID),
		p.UserName,
		p.School,
		string(p.Level),
		p.Rating,
		p.Wins,
		p.Losses,
		p.Draws,
		p.TotalGames,
		p.WinStreak,
		p.HighestStreak,
		p.XP,
		string(achievementsRaw),
		p.Coins,
	)
	if err != nil {
		return fmt.Errorf("upsert duel player: %w", err)
	}
	return nil
}
