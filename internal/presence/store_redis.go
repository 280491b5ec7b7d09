package presence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/domain"
	"github.com/redis/go-redis/v9"
)

var _ Oracle = (*RedisStore)(nil)

const (
	keyLastSeen = "presence:last_seen"
	// heartbeats older than this are dropped by Prune
	retention = 24 * time.Hour
)

// RedisStore keeps last-seen timestamps in a sorted set (score = unix millis).
type RedisStore struct {
	rdb          *redis.Client
	clock        clockwork.Clock
	alwaysOnline func(userID string) bool
}

type Option func(*RedisStore)

// WithClock injects the clock used for heartbeats and window checks.
func WithClock(c clockwork.Clock) Option {
	return func(s *RedisStore) { s.clock = c }
}

// WithAlwaysOnline marks ids (e.g. the bot) that never go stale.
func WithAlwaysOnline(fn func(userID string) bool) Option {
	return func(s *RedisStore) { s.alwaysOnline = fn }
}

func NewRedisStore(rdb *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{rdb: rdb, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch records a heartbeat for userID at the current clock time.
func (s *RedisStore) Touch(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.PresenceRecord{}, errors.New("empty user id")
	}
	now := s.clock.Now()
	err := s.rdb.ZAdd(ctx, keyLastSeen, redis.Z{Score: float64(now.UnixMilli()), Member: userID}).Err()
	if err != nil {
		return domain.PresenceRecord{}, err
	}
	return domain.PresenceRecord{UserID: userID, LastSeen: now}, nil
}

// LastSeen returns the stored record; ok is false when the user never sent a heartbeat.
func (s *RedisStore) LastSeen(ctx context.Context, userID string) (domain.PresenceRecord, bool, error) {
	score, err := s.rdb.ZScore(ctx, keyLastSeen, strings.TrimSpace(userID)).Result()
	if err == redis.Nil {
		return domain.PresenceRecord{}, false, nil
	}
	if err != nil {
		return domain.PresenceRecord{}, false, err
	}
	return domain.PresenceRecord{UserID: userID, LastSeen: time.UnixMilli(int64(score))}, true, nil
}

// IsOnline is the Oracle backed by the heartbeat set.
func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	if s.alwaysOnline != nil && s.alwaysOnline(userID) {
		return true, nil
	}
	rec, ok, err := s.LastSeen(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	return IsOnline(s.clock.Now(), rec.LastSeen), nil
}

// OnlineIDs lists users whose last heartbeat passes IsOnline. The score
// range only narrows the scan; IsOnline decides.
func (s *RedisStore) OnlineIDs(ctx context.Context) ([]string, error) {
	now := s.clock.Now()
	rows, err := s.rdb.ZRangeByScoreWithScores(ctx, keyLastSeen, &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Add(-OnlineWindow).UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, z := range rows {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		if IsOnline(now, time.UnixMilli(int64(z.Score))) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Prune drops heartbeats older than the retention period.
func (s *RedisStore) Prune(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-retention).UnixMilli()
	return s.rdb.ZRemRangeByScore(ctx, keyLastSeen, "-inf", "("+strconv.FormatInt(cutoff, 10)).Result()
}
