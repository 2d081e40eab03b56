package infra

import (
	"context"
	"time"

	"serial-allocator/admission/domain"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implementa domain.CounterStore com INCR/DECR/EXPIREAT.
type RedisCounterStore struct {
	rdb  redis.UniversalClient
	keys KeySpace
}

func NewRedisCounterStore(rdb redis.UniversalClient, keys KeySpace) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb, keys: keys}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key domain.Key) (int64, error) {
	n, err := s.rdb.Incr(ctx, s.keys.Counter(key)).Result()
	return n, errors.Wrapf(err, "incr %s", key)
}

func (s *RedisCounterStore) Decrement(ctx context.Context, key domain.Key) (int64, error) {
	n, err := s.rdb.Decr(ctx, s.keys.Counter(key)).Result()
	return n, errors.Wrapf(err, "decr %s", key)
}

func (s *RedisCounterStore) ExpireAt(ctx context.Context, key domain.Key, at time.Time) error {
	return errors.Wrapf(s.rdb.ExpireAt(ctx, s.keys.Counter(key), at).Err(), "expireat %s", key)
}

// Value lê o contador atual (0 se ausente).
func (s *RedisCounterStore) Value(ctx context.Context, key domain.Key) (int64, error) {
	n, err := s.rdb.Get(ctx, s.keys.Counter(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, errors.Wrapf(err, "get %s", key)
}
