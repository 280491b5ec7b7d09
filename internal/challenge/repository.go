package challenge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/park285/quiz-duel/internal/domain"

	_ "github.com/lib/pq"
)

// Repository archives challenges that reached active or cancelled.
// Redis stays the source of truth; this table is for history queries.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const archiveSchema = `CREATE TABLE IF NOT EXISTS duel_challenges (
  challenge_id   TEXT PRIMARY KEY,
  type           TEXT NOT NULL,
  level          TEXT NOT NULL,
  subject        TEXT NOT NULL,
  difficulty     TEXT NOT NULL,
  question_count INT NOT NULL,
  time_limit     INT NOT NULL,
  creator_id     TEXT NOT NULL,
  creator_name   TEXT NOT NULL,
  opponents      JSONB NOT NULL,
  status         TEXT NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL,
  started_at     TIMESTAMPTZ,
  cancelled_at   TIMESTAMPTZ,
  updated_at     TIMESTAMPTZ NOT NULL
)`

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, archiveSchema)
	return err
}

// SaveChallenge upserts the archived row.
func (r *Repository) SaveChallenge(ctx context.Context, c *domain.Challenge) error {
	if r == nil || r.db == nil || c == nil {
		return nil
	}
	opponentsRaw, err := json.Marshal(c.Opponents)
	if err != nil {
		return err
	}
	q := `INSERT INTO duel_challenges (
        challenge_id, type, level, subject, difficulty, question_count, time_limit,
        creator_id, creator_name, opponents, status,
        created_at, started_at, cancelled_at, updated_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
      ) ON CONFLICT (challenge_id) DO UPDATE SET
        opponents=EXCLUDED.opponents,
        status=EXCLUDED.status,
        started_at=EXCLUDED.started_at,
        cancelled_at=EXCLUDED.cancelled_at,
        updated_at=EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, q,
		c.ID, string(c.Type), string(c.Level), c.Subject, c.Difficulty, c.QuestionCount, c.TimeLimit,
		c.CreatorID, c.CreatorName, string(opponentsRaw), string(c.Status),
		c.CreatedAt, nullTime(c.StartedAt), nullTime(c.CancelledAt), c.UpdatedAt,
	)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// DB exposes the pool so other Postgres-backed stores can share it.
func (r *Repository) DB() *sql.DB {
	if r == nil {
		return nil
	}
	return r.db
}
