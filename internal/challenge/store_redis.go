package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/park285/quiz-duel/internal/domain"
	"github.com/redis/go-redis/v9"
)

// casAttempts bounds WATCH retries before giving up with ErrConflict.
const casAttempts = 8

// RedisStore keeps challenges as JSON under duel:challenge:<id>; status
// changes go through WATCH/MULTI so concurrent writers cannot both win.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func keyChallenge(id string) string  { return "duel:challenge:" + strings.TrimSpace(id) }
func keyUserIdx(userID string) string { return "duel:index:user:" + strings.TrimSpace(userID) }
func keyPending() string              { return "duel:pending" }

func (s *RedisStore) Create(ctx context.Context, c *domain.Challenge) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.New("challenge id required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	// only set if key doesn't exist
	ok, err := s.rdb.SetNX(ctx, keyChallenge(c.ID), raw, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	pipe := s.rdb.TxPipeline()
	for _, uid := range c.Participants() {
		pipe.ZAdd(ctx, keyUserIdx(uid), redis.Z{Score: float64(c.CreatedAt.UnixMilli()), Member: c.ID})
	}
	if pending(c.Status) {
		pipe.SAdd(ctx, keyPending(), c.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	return s.load(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, g getter, id string) (*domain.Challenge, error) {
	raw, err := g.Get(ctx, keyChallenge(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*domain.Challenge) error) (*domain.Challenge, error) {
	key := keyChallenge(id)
	for attempt := 0; attempt < casAttempts; attempt++ {
		var out *domain.Challenge
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur == nil {
				return ErrNoRecord
			}
			next := cur.Clone()
			if merr := mutate(next); merr != nil {
				if errors.Is(merr, ErrUnchanged) {
					out = cur
					return nil
				}
				return merr
			}
			next.Version = cur.Version + 1
			raw, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, 0)
				if pending(next.Status) {
					pipe.SAdd(ctx, keyPending(), next.ID)
				} else {
					pipe.SRem(ctx, keyPending(), next.ID)
				}
				return nil
			})
			if err != nil {
				return err
			}
			out = next
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// concurrent write landed first; re-read and re-apply
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*domain.Challenge, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyUserIdx(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.loadMany(ctx, ids)
}

func (s *RedisStore) ListPending(ctx context.Context) ([]*domain.Challenge, error) {
	ids, err := s.rdb.SMembers(ctx, keyPending()).Result()
	if err != nil {
		return nil, err
	}
	list, err := s.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, c := range list {
		if pending(c.Status) {
			out = append(out, c)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) loadMany(ctx context.Context, ids []string) ([]*domain.Challenge, error) {
	out := make([]*domain.Challenge, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
