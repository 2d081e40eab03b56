package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"serial-allocator/admission/domain"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript apaga o lock só se o token ainda for o do dono.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implementa domain.Locker com SET NX PX e token por lease.
//
// Waiters fazem polling com backoff exponencial e jitter até o deadline; não há
// fila nem ordem FIFO entre eles.
type RedisLocker struct {
	rdb  redis.UniversalClient
	keys KeySpace

	leaseTTL   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

type RedisLockerOption func(*RedisLocker)

// WithLeaseTTL limita quanto tempo um dono que morreu segura a chave.
func WithLeaseTTL(d time.Duration) RedisLockerOption {
	return func(l *RedisLocker) { l.leaseTTL = d }
}

func WithLockBackoff(lo, hi time.Duration) RedisLockerOption {
	return func(l *RedisLocker) {
		l.minBackoff = lo
		l.maxBackoff = hi
	}
}

func NewRedisLocker(rdb redis.UniversalClient, keys KeySpace, opts ...RedisLockerOption) *RedisLocker {
	l := &RedisLocker{
		rdb:        rdb,
		keys:       keys,
		leaseTTL:   10 * time.Second,
		minBackoff: 2 * time.Millisecond,
		maxBackoff: 50 * time.Millisecond,
		rnd:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.minBackoff <= 0 {
		l.minBackoff = time.Millisecond
	}
	if l.maxBackoff < l.minBackoff {
		l.maxBackoff = l.minBackoff
	}
	return l
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key domain.Key, maxWait time.Duration) (domain.Lease, error) {
	lockKey := l.keys.Lock(key)
	token := uuid.NewString()
	deadline := time.Now().Add(maxWait)
	backoff := l.minBackoff

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.leaseTTL).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire lock %s", lockKey)
		}
		if ok {
			return &redisLease{rdb: l.rdb, key: key, lockKey: lockKey, token: token}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Wrapf(domain.ErrLockTimeout, "key %s after %s", key, maxWait)
		}

		t := time.NewTimer(min(l.jitter(backoff), remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Wrapf(ctx.Err(), "wait lock %s", lockKey)
		case <-t.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// jitter devolve um valor em [d/2, d].
func (l *RedisLocker) jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	l.mu.Lock()
	n := l.rnd.Int64N(half + 1)
	l.mu.Unlock()
	return time.Duration(half + n)
}

type redisLease struct {
	rdb     redis.UniversalClient
	key     domain.Key
	lockKey string
	token   string

	once sync.Once
	err  error
}

func (l *redisLease) Key() domain.Key { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		n, err := releaseScript.Run(ctx, l.rdb, []string{l.lockKey}, l.token).Int64()
		switch {
		case err != nil:
			l.err = errors.Wrapf(err, "release lock %s", l.lockKey)
		case n == 0:
			l.err = errors.Wrapf(domain.ErrLeaseLost, "lock %s", l.lockKey)
		}
	})
	return l.err
}
